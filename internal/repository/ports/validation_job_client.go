package ports

import (
	"context"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type UploadRequest struct {
	Filename               string
	Content                []byte
	ExpireDate             string
	DefaultPersonalMessage string
}

// ValidationJobClient is the request/response boundary to the external Job
// Service. Only FetchRows is safe to retry; every other call has side effects.
type ValidationJobClient interface {
	Upload(ctx context.Context, req UploadRequest) (string, error)
	FetchRows(ctx context.Context, jobID string, filter domain.RowFilter) (*domain.RowPage, error)
	PatchRow(ctx context.Context, jobID string, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error)
	DeleteRow(ctx context.Context, jobID string, rowID int64) (domain.JobStats, error)
	ClearAll(ctx context.Context, jobID string) (domain.JobStats, error)
	AddRow(ctx context.Context, jobID string, draft domain.RowDraft) (*domain.PreviewRow, domain.JobStats, error)
	Confirm(ctx context.Context, jobID, expireDate, defaultMessage string) (domain.ConfirmOutcome, error)
	ListTicketTypes(ctx context.Context) ([]domain.TicketType, error)
}
