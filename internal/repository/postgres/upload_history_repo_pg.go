package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
)

type UploadHistoryRepository struct {
	db *sqlx.DB
}

var _ ports.UploadHistoryRepository = (*UploadHistoryRepository)(nil)

func NewUploadHistoryRepo(db *sqlx.DB) *UploadHistoryRepository {
	return &UploadHistoryRepository{db: db}
}

const uploadHistoryColumns = `id, job_id, uploaded_by, filename, file_key, status, expire_date,
		       total_count, valid_count, invalid_count, message, created_at, updated_at`

func (r *UploadHistoryRepository) Create(ctx context.Context, record *domain.UploadRecord) (*domain.UploadRecord, error) {
	const query = `
		INSERT INTO upload_history (
			id, job_id, uploaded_by, filename, file_key, status, expire_date,
			total_count, valid_count, invalid_count, message, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13
		)
		RETURNING ` + uploadHistoryColumns

	var inserted domain.UploadRecord
	if err := r.db.GetContext(ctx, &inserted, query,
		record.ID,
		record.JobID,
		record.UploadedBy,
		record.Filename,
		nullStringPtr(record.FileKey),
		record.Status,
		record.ExpireDate,
		record.TotalCount,
		record.ValidCount,
		record.InvalidCount,
		nullStringPtr(record.Message),
		record.CreatedAt,
		record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &inserted, nil
}

func (r *UploadHistoryRepository) Update(ctx context.Context, record *domain.UploadRecord) (*domain.UploadRecord, error) {
	const query = `
		UPDATE upload_history
		SET status = $2,
		    total_count = $3,
		    valid_count = $4,
		    invalid_count = $5,
		    message = $6,
		    file_key = $7,
		    updated_at = $8
		WHERE id = $1
		RETURNING ` + uploadHistoryColumns

	var updated domain.UploadRecord
	if err := r.db.GetContext(ctx, &updated, query,
		record.ID,
		record.Status,
		record.TotalCount,
		record.ValidCount,
		record.InvalidCount,
		nullStringPtr(record.Message),
		nullStringPtr(record.FileKey),
		record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *UploadHistoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.UploadRecord, error) {
	const query = `
		SELECT ` + uploadHistoryColumns + `
		FROM upload_history
		WHERE id = $1
	`

	var record domain.UploadRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *UploadHistoryRepository) List(ctx context.Context, filter domain.UploadRecordFilter) ([]domain.UploadRecord, error) {
	const query = `
		SELECT ` + uploadHistoryColumns + `
		FROM upload_history
		WHERE uploaded_by = $1
		  AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at DESC
		LIMIT $3
	`

	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}

	var records []domain.UploadRecord
	if err := r.db.SelectContext(ctx, &records, query, filter.UploadedBy, pq.Array(statuses), filter.Limit); err != nil {
		return nil, err
	}
	return records, nil
}

func nullStringPtr(ptr *string) sql.NullString {
	if ptr == nil || *ptr == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *ptr, Valid: true}
}
