package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Fallback messages shown when the Job Service gives nothing usable.
const (
	FallbackUploadMessage  = "Failed to upload CSV file"
	FallbackConfirmMessage = "Something went wrong while sending."
	FallbackRowMessage     = "Validation failed."
	FallbackServiceMessage = "The invitation service could not be reached."
	FallbackQuotaMessage   = "You've exceeded your invitation limit."
)

const CodeInsufficientQuota = "INSUFFICIENT_QUOTA"

// ServiceError is a transport failure or a response that could not be
// interpreted. Message is always safe to show to a user.
type ServiceError struct {
	Op      string
	Status  int
	Message string
	err     error
}

func NewServiceError(op string, status int, message string, err error) *ServiceError {
	if strings.TrimSpace(message) == "" {
		message = FallbackServiceMessage
	}
	return &ServiceError{Op: op, Status: status, Message: message, err: err}
}

func (e *ServiceError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// UploadError is a rejected upload. Message is the server's own when present.
type UploadError struct {
	Status  int
	Message string
}

func (e *UploadError) Error() string {
	return "upload rejected: " + e.Message
}

// RowValidationError carries per-field errors for one rejected row edit or
// row addition. Callers apply Fields to the row instead of dropping the edit.
// Stats is set when the server sent updated counts along with the rejection.
type RowValidationError struct {
	Status  int
	Message string
	Fields  FieldErrors
	Stats   *JobStats
}

func (e *RowValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "row rejected: " + e.Message
	}
	return fmt.Sprintf("row rejected: %s (%d field errors)", e.Message, len(e.Fields))
}

// ConfirmError is a generic confirm failure; the job stays open.
type ConfirmError struct {
	Message string
}

func (e *ConfirmError) Error() string {
	return "confirm failed: " + e.Message
}

// QuotaError means the account cannot send this many invitations.
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	return "insufficient quota: " + e.Message
}

func IsQuota(err error) bool {
	var quota *QuotaError
	return errors.As(err, &quota)
}

func IsRowValidation(err error) bool {
	var rowErr *RowValidationError
	return errors.As(err, &rowErr)
}

// UserMessage extracts the user-facing message of a Job Service error.
func UserMessage(err error) string {
	var (
		svc     *ServiceError
		upload  *UploadError
		row     *RowValidationError
		confirm *ConfirmError
		quota   *QuotaError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &quota):
		return quota.Message
	case errors.As(err, &row):
		return row.Message
	case errors.As(err, &upload):
		return upload.Message
	case errors.As(err, &confirm):
		return confirm.Message
	case errors.As(err, &svc):
		return svc.Message
	default:
		return FallbackServiceMessage
	}
}

// FieldErrors maps a field name (or a synthetic key) to a message. Servers
// send strings, lists of strings or booleans; all decode to one string.
type FieldErrors map[string]string

func (f *FieldErrors) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(FieldErrors, len(raw))
	for key, val := range raw {
		out[key] = flattenErrorValue(val)
	}
	*f = out
	return nil
}

func flattenErrorValue(val json.RawMessage) string {
	var s string
	if err := json.Unmarshal(val, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(val, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var b bool
	if err := json.Unmarshal(val, &b); err == nil {
		if b {
			return "true"
		}
		return ""
	}
	return strings.TrimSpace(string(val))
}
