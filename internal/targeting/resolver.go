// Package targeting resolves declarative audience specs into concrete
// recipient sets at send time.
package targeting

import (
	"context"
	"fmt"

	"github.com/aquademia/notify-engine/internal/domain"
	"github.com/aquademia/notify-engine/internal/repository"
)

type Resolver struct {
	users repository.UserRepository
}

func NewResolver(users repository.UserRepository) (*Resolver, error) {
	if users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	return &Resolver{users: users}, nil
}

// Resolve turns a targeting spec into a deduplicated recipient list.
//
// SpecificIDs takes absolute precedence: when present, every other dimension
// is ignored and the ids are looked up as-is. An all-empty spec resolves to
// everyone; callers that do not intend a broadcast must reject it first.
func (r *Resolver) Resolve(ctx context.Context, spec domain.TargetingSpec) ([]domain.Recipient, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	recipients, err := r.users.FindUsers(ctx, filterFromSpec(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve targeting spec: %w", err)
	}

	return dedupeByID(recipients), nil
}

// Count reports the audience size without loading recipients, for
// preview-targeting calls.
func (r *Resolver) Count(ctx context.Context, spec domain.TargetingSpec) (int64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}

	count, err := r.users.CountUsers(ctx, filterFromSpec(spec))
	if err != nil {
		return 0, fmt.Errorf("failed to count targeting spec audience: %w", err)
	}
	return count, nil
}

func filterFromSpec(spec domain.TargetingSpec) repository.UserFilter {
	if len(spec.SpecificIDs) > 0 {
		return repository.UserFilter{IDs: uniqueStrings(spec.SpecificIDs)}
	}

	roles := make([]string, 0, len(spec.Roles))
	for _, raw := range spec.Roles {
		// Validate already ran; parse to normalize the token.
		role, err := domain.ParseRoleFromString(raw)
		if err != nil {
			continue
		}
		roles = append(roles, role.String())
	}

	return repository.UserFilter{
		Roles:        roles,
		StudentTypes: spec.StudentTypes,
		Grades:       spec.Grades,
		Batches:      spec.Batches,
		Subjects:     spec.Subjects,
		Teachers:     spec.Teachers,
	}
}

func dedupeByID(recipients []domain.Recipient) []domain.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	result := make([]domain.Recipient, 0, len(recipients))
	for _, recipient := range recipients {
		if _, ok := seen[recipient.ID]; ok {
			continue
		}
		seen[recipient.ID] = struct{}{}
		result = append(result, recipient)
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
