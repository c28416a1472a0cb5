package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// IsNotFound reports whether err carries a not-found AppError anywhere in its chain.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus == http.StatusNotFound
	}
	return false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Evidence (EVD) ----

func ErrEvidenceNotFound(id string) *AppError {
	return New("EVD_001", fmt.Sprintf("evidence %s not found", id), http.StatusNotFound)
}

func ErrImmutableField(field string) *AppError {
	return New("EVD_002", fmt.Sprintf("evidence field %q cannot be modified", field), http.StatusConflict)
}

func ErrInvalidCustodyAction(action string) *AppError {
	return New("EVD_003", fmt.Sprintf("unsupported custody action %q", action), http.StatusBadRequest)
}

// ---- Tracing (TRC) ----

func ErrTransactionNotFound(signature string) *AppError {
	return New("TRC_001", fmt.Sprintf("transaction %s not found", signature), http.StatusNotFound)
}

func ErrInvalidTraceMode(mode string) *AppError {
	return New("TRC_002", fmt.Sprintf("unsupported trace mode %q", mode), http.StatusBadRequest)
}

func ErrLedgerUnavailable(err error) *AppError {
	return Wrap("TRC_003", "Ledger collaborator unavailable", http.StatusBadGateway, err)
}

// ---- Rules (RULE) ----

func ErrUnknownField(field string) *AppError {
	return New("RULE_001", fmt.Sprintf("unknown rule field %q", field), http.StatusBadRequest)
}

func ErrInvalidOperator(op string) *AppError {
	return New("RULE_002", fmt.Sprintf("unsupported operator %q", op), http.StatusBadRequest)
}

func ErrInvalidCondition(message string, err error) *AppError {
	return Wrap("RULE_003", message, http.StatusBadRequest, err)
}

func ErrRuleNotFound(id string) *AppError {
	return New("RULE_004", fmt.Sprintf("rule %s not found", id), http.StatusNotFound)
}

func ErrDuplicateRule(id string) *AppError {
	return New("RULE_005", fmt.Sprintf("rule %s already registered", id), http.StatusConflict)
}

// ---- Alerts (ALR) ----

func ErrAlertNotFound(id string) *AppError {
	return New("ALR_001", fmt.Sprintf("alert %s not found", id), http.StatusNotFound)
}

func ErrInvalidStatusTransition(from, to string) *AppError {
	return New("ALR_002", fmt.Sprintf("alert cannot move from %s to %s", from, to), http.StatusConflict)
}

// ---- Audit (AUD) ----

func ErrAuditEntryNotFound(id string) *AppError {
	return New("AUD_001", fmt.Sprintf("audit entry %s not found", id), http.StatusNotFound)
}

func ErrInvalidPeriod() *AppError {
	return New("AUD_002", "Report period start must precede end", http.StatusBadRequest)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

func ErrCacheError(err error) *AppError {
	return Wrap("SYS_002", "Cache unavailable", http.StatusServiceUnavailable, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a generic request validation error.
func Validation(message string) *AppError {
	return New("REQ_001", message, http.StatusBadRequest)
}
