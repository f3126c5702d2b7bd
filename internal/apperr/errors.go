package apperr

import "errors"

// Business-critical errors propagate to the HTTP layer. Best-effort errors
// (audit, alert, enqueue) are only ever logged at their own boundary.
var (
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrPersistence          = errors.New("persistence failure")
	ErrAuditAppend          = errors.New("audit append failure")
	ErrAlertDelivery        = errors.New("alert delivery failure")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrConflict             = errors.New("conflict")
)
