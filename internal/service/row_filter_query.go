package service

import (
	"net/url"
	"strings"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

// RowFilterQuery decides what the preview table fetches. Changing any
// filter moves back to page 1; it is not safe for concurrent use and is
// guarded by its owner.
type RowFilterQuery struct {
	filter domain.RowFilter
}

func NewRowFilterQuery() *RowFilterQuery {
	return &RowFilterQuery{filter: domain.RowFilter{Page: 1}}
}

func (q *RowFilterQuery) SetSearch(search string) {
	q.filter.Search = strings.TrimSpace(search)
	q.filter.Page = 1
}

func (q *RowFilterQuery) SetStatus(status domain.RowStatus) {
	q.filter.Status = status
	q.filter.Page = 1
}

// SetStatusFlags maps the "show valid" / "show invalid" checkboxes. Exactly
// one ticked narrows to that status; both or neither shows everything.
func (q *RowFilterQuery) SetStatusFlags(showValid, showInvalid bool) {
	switch {
	case showValid && !showInvalid:
		q.SetStatus(domain.RowStatusValid)
	case showInvalid && !showValid:
		q.SetStatus(domain.RowStatusInvalid)
	default:
		q.SetStatus("")
	}
}

func (q *RowFilterQuery) SetTicketType(ticketType string) {
	q.filter.TicketType = strings.TrimSpace(ticketType)
	q.filter.Page = 1
}

func (q *RowFilterQuery) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	q.filter.Page = page
}

func (q *RowFilterQuery) Reset() {
	q.filter = domain.RowFilter{Page: 1}
}

func (q *RowFilterQuery) Filter() domain.RowFilter {
	return q.filter
}

func (q *RowFilterQuery) RequestParams() url.Values {
	return q.filter.QueryValues()
}
