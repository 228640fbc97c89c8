package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type UploadHistoryRepository interface {
	Create(ctx context.Context, record *domain.UploadRecord) (*domain.UploadRecord, error)
	Update(ctx context.Context, record *domain.UploadRecord) (*domain.UploadRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.UploadRecord, error)
	List(ctx context.Context, filter domain.UploadRecordFilter) ([]domain.UploadRecord, error)
}
