package service

import (
	"errors"
	"fmt"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

var (
	ErrNoFile             = errors.New("please select a CSV file")
	ErrFileEmpty          = errors.New("the selected file is empty")
	ErrFileTooLarge       = errors.New("file exceeds the upload size limit")
	ErrExpireDateRequired = errors.New("please select an expiration date")
	ErrExpireDateInPast   = errors.New("expiration date cannot be in the past")
	ErrExpireDateInvalid  = errors.New("expiration date must be formatted as YYYY-MM-DD")
	ErrNoRows             = errors.New("no rows to send")
	ErrInvalidState       = errors.New("operation not allowed in the current state")
	ErrSessionClosed      = errors.New("bulk upload session is closed")
	ErrUnknownField       = errors.New("field cannot be edited")
	ErrSessionNotFound    = errors.New("bulk upload session not found")
	ErrTicketTypeUnknown  = errors.New("unknown ticket type")
	ErrDraftInvalid       = errors.New("please fix the highlighted fields")
	ErrRowsLoading        = errors.New("validation results are still loading")
)

// PreconditionError is a local rejection: nothing was sent to the Job Service.
type PreconditionError struct {
	Op  string
	Err error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func precondition(op string, err error) error {
	return &PreconditionError{Op: op, Err: err}
}

// ConfirmationRequiredError asks the caller to acknowledge that some rows
// will be skipped before confirm is sent.
type ConfirmationRequiredError struct {
	Summary domain.ConfirmSummary
}

func (e *ConfirmationRequiredError) Error() string {
	s := e.Summary
	return fmt.Sprintf("confirmation required: %d of %d rows will be sent (%d invalid, %d duplicates)",
		s.Sendable, s.Stats.TotalCount, s.Stats.InvalidCount, s.DuplicatesSeen)
}

// IsPrecondition reports whether err was raised before any network call.
func IsPrecondition(err error) bool {
	var pre *PreconditionError
	return errors.As(err, &pre)
}
