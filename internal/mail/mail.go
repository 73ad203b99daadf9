package mail

import "context"

// Sender is the outbound email delivery port.
type Sender interface {
	Send(ctx context.Context, email Email) (*Response, error)
}

// Email is a single outbound message to one address.
type Email struct {
	To      string
	Subject string
	Body    string
}

// Response stores relay call metadata for audit and logging.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
}
