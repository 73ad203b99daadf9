package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aquademia/notify-engine/internal/domain"
	"github.com/aquademia/notify-engine/internal/repository"
	"github.com/aquademia/notify-engine/internal/service"
	"github.com/gofiber/fiber/v2"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type NotificationService interface {
	Create(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	SendBulk(ctx context.Context, req service.BulkRequest) (*service.BulkSummary, error)
	PreviewTargeting(ctx context.Context, spec domain.TargetingSpec) (int64, error)
	Get(ctx context.Context, id, callerID string) (*domain.Notification, error)
	ListForRecipient(ctx context.Context, recipientID string, params repository.ListParams) ([]domain.Notification, int64, error)
	UnreadCount(ctx context.Context, recipientID string) (int64, error)
	MarkRead(ctx context.Context, id, callerID string) error
	MarkDelivered(ctx context.Context, id, callerID string) error
	MarkAllRead(ctx context.Context, callerID string) (int64, error)
	Delete(ctx context.Context, id, callerID string) error
	List(ctx context.Context, params repository.AdminListParams) ([]domain.Notification, int64, error)
	StatusSummary(ctx context.Context, params repository.AdminListParams) ([]repository.StatusCount, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

func RegisterNotificationRoutes(router fiber.Router, service NotificationService) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.CreateNotification)
	v1.Post("/notifications/bulk", h.SendBulk)
	v1.Post("/targeting/preview", h.PreviewTargeting)

	users := v1.Group("/users/:userId")
	users.Get("/notifications", h.ListUserNotifications)
	users.Get("/notifications/unread-count", h.UnreadCount)
	users.Get("/notifications/:id", h.GetUserNotification)
	users.Post("/notifications/read-all", h.MarkAllRead)
	users.Post("/notifications/:id/read", h.MarkRead)
	users.Post("/notifications/:id/delivered", h.MarkDelivered)
	users.Delete("/notifications/:id", h.DeleteNotification)

	admin := v1.Group("/admin")
	admin.Get("/notifications", h.AdminList)
	admin.Get("/notifications/stats", h.AdminStats)

	return nil
}

type createNotificationRequest struct {
	RecipientID string            `json:"recipientId"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Payload     map[string]string `json:"payload,omitempty"`
}

type targetingSpecRequest struct {
	SpecificIDs  []string `json:"specificIds,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	StudentTypes []string `json:"studentTypes,omitempty"`
	Grades       []string `json:"grades,omitempty"`
	Batches      []string `json:"batches,omitempty"`
	Subjects     []string `json:"subjects,omitempty"`
	Teachers     []string `json:"teachers,omitempty"`
}

type sendBulkRequest struct {
	Targeting    targetingSpecRequest `json:"targeting"`
	RecipientIDs []string             `json:"recipientIds,omitempty"`
	Category     string               `json:"category"`
	Title        string               `json:"title"`
	Body         string               `json:"body"`
	Payload      map[string]string    `json:"payload,omitempty"`
}

type notificationResponse struct {
	ID          string            `json:"id"`
	RecipientID string            `json:"recipientId"`
	Category    string            `json:"category"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Payload     map[string]string `json:"payload,omitempty"`
	Status      string            `json:"status"`
	SentAt      time.Time         `json:"sentAt"`
	DeliveredAt *time.Time        `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time        `json:"readAt,omitempty"`
	CreatedAt   time.Time         `json:"createdAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt,omitempty"`
}

type sendBulkResponse struct {
	Total         int `json:"total"`
	LiveDelivered int `json:"liveDelivered"`
	EmailQueued   int `json:"emailQueued"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type statsResponse struct {
	Counts []statusCountItem `json:"counts"`
}

type statusCountItem struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	notification := domain.Notification{
		RecipientID: strings.TrimSpace(req.RecipientID),
		Category:    req.Category,
		Title:       req.Title,
		Body:        req.Body,
		Payload:     req.Payload,
	}

	created, err := h.service.Create(c.Context(), &notification)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) SendBulk(c *fiber.Ctx) error {
	var req sendBulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	summary, err := h.service.SendBulk(c.Context(), service.BulkRequest{
		Targeting:    toTargetingSpec(req.Targeting),
		RecipientIDs: req.RecipientIDs,
		Category:     req.Category,
		Title:        req.Title,
		Body:         req.Body,
		Payload:      req.Payload,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(sendBulkResponse{
		Total:         summary.Total,
		LiveDelivered: summary.LiveDelivered,
		EmailQueued:   summary.EmailQueued,
	})
}

func (h *NotificationHandler) PreviewTargeting(c *fiber.Ctx) error {
	var req targetingSpecRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	count, err := h.service.PreviewTargeting(c.Context(), toTargetingSpec(req))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"matchedCount": count,
	})
}

func (h *NotificationHandler) GetUserNotification(c *fiber.Ctx) error {
	notification, err := h.service.Get(c.Context(), c.Params("id"), c.Params("userId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ListUserNotifications(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.ListForRecipient(c.Context(), c.Params("userId"), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	count, err := h.service.UnreadCount(c.Context(), c.Params("userId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"unreadCount": count,
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	if err := h.service.MarkRead(c.Context(), c.Params("id"), c.Params("userId")); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": c.Params("id"),
		"status":         domain.StatusRead.String(),
	})
}

func (h *NotificationHandler) MarkDelivered(c *fiber.Ctx) error {
	if err := h.service.MarkDelivered(c.Context(), c.Params("id"), c.Params("userId")); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"notificationId": c.Params("id"),
		"status":         domain.StatusDelivered.String(),
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	count, err := h.service.MarkAllRead(c.Context(), c.Params("userId"))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"markedCount": count,
	})
}

func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id"), c.Params("userId")); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) AdminList(c *fiber.Ctx) error {
	params, err := parseAdminListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	notifications, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *NotificationHandler) AdminStats(c *fiber.Ctx) error {
	params, err := parseAdminListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	counts, err := h.service.StatusSummary(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]statusCountItem, 0, len(counts))
	for _, count := range counts {
		items = append(items, statusCountItem{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return c.Status(fiber.StatusOK).JSON(statsResponse{Counts: items})
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return repository.ListParams{}, err
	}

	params := repository.ListParams{
		Category: strings.TrimSpace(c.Query("category")),
		Page:     page,
		PageSize: pageSize,
	}

	readState, err := domain.ParseReadStateFromString(c.Query("readState"))
	if err != nil {
		return repository.ListParams{}, err
	}
	params.ReadState = readState

	return params, nil
}

func parseAdminListParams(c *fiber.Ctx) (repository.AdminListParams, error) {
	page, pageSize, err := parsePagination(c)
	if err != nil {
		return repository.AdminListParams{}, err
	}

	params := repository.AdminListParams{
		Category:    strings.TrimSpace(c.Query("category")),
		RecipientID: strings.TrimSpace(c.Query("recipientId")),
		Page:        page,
		PageSize:    pageSize,
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.AdminListParams{}, err
		}
		params.Status = &status
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.AdminListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.AdminListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parsePagination(c *fiber.Ctx) (int, int, error) {
	page := c.QueryInt("page", defaultPage)
	pageSize := c.QueryInt("pageSize", defaultPageSize)

	if page < 1 {
		return 0, 0, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	return page, pageSize, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toTargetingSpec(req targetingSpecRequest) domain.TargetingSpec {
	return domain.TargetingSpec{
		SpecificIDs:  req.SpecificIDs,
		Roles:        req.Roles,
		StudentTypes: req.StudentTypes,
		Grades:       req.Grades,
		Batches:      req.Batches,
		Subjects:     req.Subjects,
		Teachers:     req.Teachers,
	}
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, notification := range notifications {
		n := notification
		responses = append(responses, toNotificationResponse(&n))
	}
	return responses
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Category:    n.Category,
		Title:       n.Title,
		Body:        n.Body,
		Payload:     n.Payload,
		Status:      n.Status().String(),
		SentAt:      n.SentAt,
		DeliveredAt: n.DeliveredAt,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNoRecipients):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
