package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusValidating JobStatus = "validating"
	JobStatusDone       JobStatus = "done"
	JobStatusConfirmed  JobStatus = "confirmed"
	JobStatusFailed     JobStatus = "failed"
)

type RowStatus string

const (
	RowStatusValid   RowStatus = "valid"
	RowStatusInvalid RowStatus = "invalid"
)

// Synthetic keys the Job Service puts into PreviewRow.Errors next to field names.
const (
	ErrorKeyDuplicate          = "duplicate"
	ErrorKeyFileLevelDuplicate = "file_level_duplicate"
	ErrorKeyGeneral            = "general"
)

// Editable row fields, by wire name.
const (
	FieldGuestName       = "guest_name"
	FieldGuestEmail      = "guest_email"
	FieldTicketType      = "ticket_type"
	FieldCompany         = "company"
	FieldPersonalMessage = "personal_message"
)

// EditableFields lists every PreviewRow field a user may change inline.
var EditableFields = []string{
	FieldGuestName,
	FieldGuestEmail,
	FieldTicketType,
	FieldCompany,
	FieldPersonalMessage,
}

func IsEditableField(field string) bool {
	for _, f := range EditableFields {
		if f == field {
			return true
		}
	}
	return false
}

// UploadJob identifies one bulk-upload attempt on the Job Service.
type UploadJob struct {
	JobID                  string    `json:"job_id"`
	Status                 JobStatus `json:"status"`
	Filename               string    `json:"filename,omitempty"`
	ExpireDate             string    `json:"expire_date"`
	DefaultPersonalMessage string    `json:"default_personal_message,omitempty"`
	UploadedAt             time.Time `json:"uploaded_at"`
}

type PreviewRow struct {
	ID                 int64       `json:"id"`
	RowNumber          int         `json:"row_number"`
	GuestName          string      `json:"guest_name"`
	GuestEmail         string      `json:"guest_email"`
	TicketType         string      `json:"ticket_type"`
	Company            string      `json:"company"`
	PersonalMessage    string      `json:"personal_message"`
	Status             RowStatus   `json:"status"`
	ErrorFound         bool        `json:"error_found"`
	Errors             FieldErrors `json:"errors,omitempty"`
	Duplicate          bool        `json:"duplicate"`
	FileLevelDuplicate bool        `json:"file_level_duplicate"`
}

// Sendable reports whether confirm may turn this row into an invitation.
// Duplicates are never sent, whatever the state of the other fields.
func (r PreviewRow) Sendable() bool {
	return !r.ErrorFound && !r.Duplicate && !r.FileLevelDuplicate
}

// SetField writes one editable field by wire name. It reports false for
// unknown or read-only fields.
func (r *PreviewRow) SetField(field, value string) bool {
	switch field {
	case FieldGuestName:
		r.GuestName = value
	case FieldGuestEmail:
		r.GuestEmail = value
	case FieldTicketType:
		r.TicketType = value
	case FieldCompany:
		r.Company = value
	case FieldPersonalMessage:
		r.PersonalMessage = value
	default:
		return false
	}
	return true
}

// MarkInvalid flags the row invalid with the given errors, keeping every
// field value as typed. Synthetic duplicate keys become flags as well.
func (r *PreviewRow) MarkInvalid(errs FieldErrors) {
	r.Status = RowStatusInvalid
	r.ErrorFound = true
	r.Errors = cloneErrors(errs)
	_, r.Duplicate = errs[ErrorKeyDuplicate]
	_, r.FileLevelDuplicate = errs[ErrorKeyFileLevelDuplicate]
}

func (r PreviewRow) Clone() PreviewRow {
	r.Errors = cloneErrors(r.Errors)
	return r
}

func cloneErrors(in FieldErrors) FieldErrors {
	if in == nil {
		return nil
	}
	out := make(FieldErrors, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// JobStats is authoritative on the server; the client only ever replaces it.
type JobStats struct {
	TotalCount   int `json:"total_count"`
	ValidCount   int `json:"valid_count"`
	InvalidCount int `json:"invalid_count"`
}

// Consistent holds for every stats payload once validation is done.
func (s JobStats) Consistent() bool {
	return s.ValidCount+s.InvalidCount == s.TotalCount
}

type Pagination struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	TotalPages  int `json:"total_pages"`
}

const DefaultPageSize = 50

// Normalize fills the defaults the dashboard assumes when the server omits them.
func (p Pagination) Normalize() Pagination {
	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPageSize
	}
	if p.TotalPages < 1 {
		p.TotalPages = 1
	}
	return p
}

// RowFilter is the query state for one fetch of a job's rows.
type RowFilter struct {
	Search     string    `json:"search,omitempty"`
	Status     RowStatus `json:"status,omitempty"`
	TicketType string    `json:"ticket_type,omitempty"`
	Page       int       `json:"page"`
}

// QueryValues serialises the filter for the rows endpoint. Unset values are
// left out entirely; page is always present.
func (f RowFilter) QueryValues() url.Values {
	params := url.Values{}
	page := f.Page
	if page < 1 {
		page = 1
	}
	params.Set("page", strconv.Itoa(page))
	if search := strings.TrimSpace(f.Search); search != "" {
		params.Set("search", search)
	}
	if f.Status != "" {
		params.Set("status", string(f.Status))
	}
	if ticket := strings.TrimSpace(f.TicketType); ticket != "" {
		params.Set("ticket_type", ticket)
	}
	return params
}

type RowPage struct {
	Rows       []PreviewRow `json:"rows"`
	Stats      JobStats     `json:"stats"`
	Pagination Pagination   `json:"pagination"`
	JobStatus  JobStatus    `json:"job_status"`
}

// FieldPatch is the single-field body of a row edit.
type FieldPatch struct {
	Field string
	Value string
}

type RowDraft struct {
	GuestName       string `json:"guest_name"`
	GuestEmail      string `json:"guest_email"`
	TicketType      string `json:"ticket_type"`
	Company         string `json:"company"`
	PersonalMessage string `json:"personal_message"`
}

func (d *RowDraft) SetField(field, value string) bool {
	switch field {
	case FieldGuestName:
		d.GuestName = value
	case FieldGuestEmail:
		d.GuestEmail = value
	case FieldTicketType:
		d.TicketType = value
	case FieldCompany:
		d.Company = value
	case FieldPersonalMessage:
		d.PersonalMessage = value
	default:
		return false
	}
	return true
}

// Validate applies the checks the add-row form runs before submitting.
func (d RowDraft) Validate() FieldErrors {
	errs := make(FieldErrors)
	if strings.TrimSpace(d.GuestName) == "" {
		errs[FieldGuestName] = "Guest name is required."
	}
	if strings.TrimSpace(d.GuestEmail) == "" {
		errs[FieldGuestEmail] = "Guest email is required."
	}
	if strings.TrimSpace(d.TicketType) == "" {
		errs[FieldTicketType] = "Ticket type is required."
	}
	return errs
}

type ConfirmOutcomeKind string

const (
	ConfirmSent          ConfirmOutcomeKind = "sent"
	ConfirmQuotaExceeded ConfirmOutcomeKind = "quota_exceeded"
	ConfirmFailed        ConfirmOutcomeKind = "failed"
)

type ConfirmOutcome struct {
	Kind    ConfirmOutcomeKind `json:"kind"`
	Message string             `json:"message,omitempty"`
}

// ConfirmSummary is what a user is shown before skipped rows are dropped.
type ConfirmSummary struct {
	Stats          JobStats `json:"stats"`
	Sendable       int      `json:"sendable"`
	DuplicatesSeen int      `json:"duplicates_seen"`
}

// NeedsAcknowledgement reports whether confirm would skip rows or send nothing.
func (s ConfirmSummary) NeedsAcknowledgement() bool {
	return s.Stats.InvalidCount > 0 || s.DuplicatesSeen > 0 || s.Sendable == 0
}

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is one user-visible outcome of a bulk session.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Title   string      `json:"title"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}
