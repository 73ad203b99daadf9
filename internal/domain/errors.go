package domain

import "errors"

var (
	// ErrValidation marks caller-correctable input errors. Rejected before any
	// state mutation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when an operation references a notification that
	// does not exist or is not owned by the caller. The two cases are not
	// distinguished on purpose.
	ErrNotFound = errors.New("not found")

	// ErrNoRecipients is returned when a bulk send resolves to an empty
	// audience. Sending to nobody is a configuration mistake, not success.
	ErrNoRecipients = errors.New("no recipients matched")

	// ErrConflict marks operations rejected because of current record state.
	ErrConflict = errors.New("conflict")
)
