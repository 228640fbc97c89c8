package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
)

var ErrInvalidHistoryStatus = errors.New("invalid upload history status")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// UploadHistoryService records every bulk upload a dashboard user makes.
type UploadHistoryService struct {
	repo ports.UploadHistoryRepository
	now  func() time.Time
}

var _ UploadRecorder = (*UploadHistoryService)(nil)

func NewUploadHistoryService(repo ports.UploadHistoryRepository) *UploadHistoryService {
	return &UploadHistoryService{repo: repo, now: time.Now}
}

func (s *UploadHistoryService) Started(ctx context.Context, record domain.UploadRecord) (*domain.UploadRecord, error) {
	now := s.now().UTC()
	record.ID = uuid.New()
	if record.Status == "" {
		record.Status = domain.UploadRecordStatusValidating
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	return s.repo.Create(ctx, &record)
}

// Finished moves a record to its next status. Records that already reached
// confirmed, discarded or failed are left alone.
func (s *UploadHistoryService) Finished(ctx context.Context, id uuid.UUID, status domain.UploadRecordStatus, stats domain.JobStats, message string) error {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if isFinalUploadStatus(record.Status) {
		return nil
	}
	record.Status = status
	record.TotalCount = stats.TotalCount
	record.ValidCount = stats.ValidCount
	record.InvalidCount = stats.InvalidCount
	if msg := strings.TrimSpace(message); msg != "" {
		record.Message = &msg
	}
	record.UpdatedAt = s.now().UTC()
	_, err = s.repo.Update(ctx, record)
	return err
}

func (s *UploadHistoryService) List(ctx context.Context, owner string, statuses []string, limit int) ([]domain.UploadRecord, error) {
	filter := domain.UploadRecordFilter{UploadedBy: owner, Limit: limit}
	for _, raw := range statuses {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		status, ok := parseUploadStatus(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidHistoryStatus, raw)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	return s.repo.List(ctx, filter)
}

func parseUploadStatus(raw string) (domain.UploadRecordStatus, bool) {
	switch status := domain.UploadRecordStatus(raw); status {
	case domain.UploadRecordStatusValidating,
		domain.UploadRecordStatusReady,
		domain.UploadRecordStatusConfirmed,
		domain.UploadRecordStatusDiscarded,
		domain.UploadRecordStatusFailed:
		return status, true
	}
	return "", false
}

func isFinalUploadStatus(status domain.UploadRecordStatus) bool {
	switch status {
	case domain.UploadRecordStatusConfirmed, domain.UploadRecordStatusDiscarded, domain.UploadRecordStatusFailed:
		return true
	}
	return false
}
