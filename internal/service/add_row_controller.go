package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type rowAdder interface {
	AddRow(ctx context.Context, draft domain.RowDraft) (*domain.PreviewRow, error)
	TicketTypes() []domain.TicketType
}

// AddRowController is the manual "add row" form of a bulk session. Errors
// stay on the form until the next submit or reset, and the typed values
// survive a rejected submit.
type AddRowController struct {
	target rowAdder

	mu     sync.Mutex
	draft  domain.RowDraft
	errors domain.FieldErrors
}

func NewAddRowController(target rowAdder) *AddRowController {
	return &AddRowController{target: target, errors: domain.FieldErrors{}}
}

func (a *AddRowController) SetField(field, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.draft.SetField(field, value) {
		return precondition("add row", ErrUnknownField)
	}
	delete(a.errors, field)
	return nil
}

func (a *AddRowController) Draft() domain.RowDraft {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draft
}

func (a *AddRowController) Errors() domain.FieldErrors {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(domain.FieldErrors, len(a.errors))
	for k, v := range a.errors {
		out[k] = v
	}
	return out
}

func (a *AddRowController) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.draft = domain.RowDraft{}
	a.errors = domain.FieldErrors{}
}

// Submit validates the draft locally and only then sends it. On success
// the form is emptied for the next entry.
func (a *AddRowController) Submit(ctx context.Context) (*domain.PreviewRow, error) {
	a.mu.Lock()
	draft := a.draft
	errs := draft.Validate()
	if _, missing := errs[domain.FieldTicketType]; !missing && !knownTicket(a.target.TicketTypes(), draft.TicketType) {
		errs[domain.FieldTicketType] = "Select a valid ticket type."
	}
	if len(errs) > 0 {
		a.errors = errs
		a.mu.Unlock()
		return nil, precondition("add row", ErrDraftInvalid)
	}
	a.errors = domain.FieldErrors{}
	a.mu.Unlock()

	row, err := a.target.AddRow(ctx, draft)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.errors = submitErrors(err)
		return nil, err
	}
	a.draft = domain.RowDraft{}
	a.errors = domain.FieldErrors{}
	return row, nil
}

// knownTicket accepts anything when no catalog could be loaded.
func knownTicket(types []domain.TicketType, value string) bool {
	if len(types) == 0 {
		return true
	}
	_, ok := domain.NewTicketCatalog(types).Resolve(value)
	return ok
}

func submitErrors(err error) domain.FieldErrors {
	out := domain.FieldErrors{}
	var rowErr *domain.RowValidationError
	if errors.As(err, &rowErr) {
		for k, v := range rowErr.Fields {
			out[k] = v
		}
		if _, ok := out[domain.ErrorKeyGeneral]; !ok && strings.TrimSpace(rowErr.Message) != "" {
			out[domain.ErrorKeyGeneral] = rowErr.Message
		}
		return out
	}
	var pre *PreconditionError
	if errors.As(err, &pre) {
		out[domain.ErrorKeyGeneral] = pre.Err.Error()
		return out
	}
	out[domain.ErrorKeyGeneral] = domain.UserMessage(err)
	return out
}
