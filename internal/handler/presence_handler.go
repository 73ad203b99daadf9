package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aquademia/notify-engine/internal/observability"
	"github.com/aquademia/notify-engine/internal/presence"
	"github.com/gofiber/fiber/v2"
)

// Reconciler catches up the delivery backlog when a user connects.
type Reconciler interface {
	OnUserConnected(ctx context.Context, userID string) (int64, error)
}

// PresenceHandler is the gateway-facing surface: socket gateways report
// connection open/close events here, and admin tooling reads the snapshot.
type PresenceHandler struct {
	registry   *presence.Registry
	reconciler Reconciler
	metrics    *observability.Metrics
}

func NewPresenceHandler(registry *presence.Registry, reconciler Reconciler, metrics *observability.Metrics) (*PresenceHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("presence registry is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	return &PresenceHandler{
		registry:   registry,
		reconciler: reconciler,
		metrics:    metrics,
	}, nil
}

func RegisterPresenceRoutes(router fiber.Router, registry *presence.Registry, reconciler Reconciler, metrics *observability.Metrics) error {
	h, err := NewPresenceHandler(registry, reconciler, metrics)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/presence")
	v1.Post("/connections", h.RegisterConnection)
	v1.Delete("/connections/:connectionId", h.UnregisterConnection)
	v1.Get("/online", h.Online)
	v1.Get("/connections", h.Snapshot)

	return nil
}

type registerConnectionRequest struct {
	UserID       string            `json:"userId"`
	ConnectionID string            `json:"connectionId"`
	ClientMeta   map[string]string `json:"clientMeta,omitempty"`
}

type presenceEntryResponse struct {
	UserID       string            `json:"userId"`
	ConnectionID string            `json:"connectionId"`
	ConnectedAt  time.Time         `json:"connectedAt"`
	ClientMeta   map[string]string `json:"clientMeta,omitempty"`
}

func (h *PresenceHandler) RegisterConnection(c *fiber.Ctx) error {
	var req registerConnectionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	userID := strings.TrimSpace(req.UserID)
	connectionID := strings.TrimSpace(req.ConnectionID)
	if userID == "" || connectionID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "userId and connectionId are required")
	}

	entry := h.registry.Register(userID, connectionID, req.ClientMeta)
	h.metrics.SetPresenceConnections(h.registry.ConnectionCount())

	reconciled, err := h.reconciler.OnUserConnected(c.Context(), userID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"userId":       entry.UserID,
		"connectionId": entry.ConnectionID,
		"connectedAt":  entry.ConnectedAt,
		"reconciled":   reconciled,
	})
}

func (h *PresenceHandler) UnregisterConnection(c *fiber.Ctx) error {
	connectionID := strings.TrimSpace(c.Params("connectionId"))

	userID, remaining, ok := h.registry.Unregister(connectionID)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "connection not registered")
	}
	h.metrics.SetPresenceConnections(h.registry.ConnectionCount())

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId":               userID,
		"remainingConnections": remaining,
	})
}

func (h *PresenceHandler) Online(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userIds":         h.registry.OnlineUserIDs(),
		"connectionCount": h.registry.ConnectionCount(),
	})
}

func (h *PresenceHandler) Snapshot(c *fiber.Ctx) error {
	entries := h.registry.Snapshot()

	responses := make([]presenceEntryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, presenceEntryResponse{
			UserID:       entry.UserID,
			ConnectionID: entry.ConnectionID,
			ConnectedAt:  entry.ConnectedAt,
			ClientMeta:   entry.ClientMeta,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"connections": responses,
	})
}
