package ratelimit

import "context"

// Limiter throttles outbound sends per named bucket (e.g. "email").
type Limiter interface {
	Allow(ctx context.Context, bucket string) (bool, error)
	Wait(ctx context.Context, bucket string) error
}
