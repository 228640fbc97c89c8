package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
)

// manualScheduler fires timers only when Advance moves its clock.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock and runs every timer that comes due, including
// timers scheduled by callbacks along the way.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		var due []*manualTimer
		for _, t := range s.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			if target > s.now {
				s.now = target
			}
			s.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		if next.at > s.now {
			s.now = next.at
		}
		s.mu.Unlock()
		next.f()
	}
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type patchCall struct {
	RowID int64
	Patch domain.FieldPatch
}

// fakeJobClient records every call. Hooks may block to hold a request in
// flight; they run outside the fake's lock.
type fakeJobClient struct {
	mu sync.Mutex

	uploadJobID string
	uploadErr   error
	uploads     []ports.UploadRequest

	fetchFn    func(call int, jobID string, filter domain.RowFilter) (*domain.RowPage, error)
	fetchCalls []domain.RowFilter

	patchFn    func(call int, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error)
	patchCalls []patchCall

	deleteStats domain.JobStats
	deleteErr   error
	deleteCalls []int64

	clearStats domain.JobStats
	clearErr   error
	clearCalls int

	addFn    func(draft domain.RowDraft) (*domain.PreviewRow, domain.JobStats, error)
	addCalls []domain.RowDraft

	confirmOutcome domain.ConfirmOutcome
	confirmErr     error
	confirmCalls   int

	tickets    []domain.TicketType
	ticketsErr error
}

var _ ports.ValidationJobClient = (*fakeJobClient)(nil)

func (f *fakeJobClient) Upload(_ context.Context, req ports.UploadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	if f.uploadJobID == "" {
		return "job-1", nil
	}
	return f.uploadJobID, nil
}

func (f *fakeJobClient) FetchRows(_ context.Context, jobID string, filter domain.RowFilter) (*domain.RowPage, error) {
	f.mu.Lock()
	f.fetchCalls = append(f.fetchCalls, filter)
	call := len(f.fetchCalls)
	fn := f.fetchFn
	f.mu.Unlock()
	if fn == nil {
		return &domain.RowPage{JobStatus: domain.JobStatusDone, Pagination: domain.Pagination{}.Normalize()}, nil
	}
	return fn(call, jobID, filter)
}

func (f *fakeJobClient) PatchRow(_ context.Context, _ string, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
	f.mu.Lock()
	f.patchCalls = append(f.patchCalls, patchCall{RowID: rowID, Patch: patch})
	call := len(f.patchCalls)
	fn := f.patchFn
	f.mu.Unlock()
	if fn == nil {
		row := domain.PreviewRow{ID: rowID, Status: domain.RowStatusValid}
		row.SetField(patch.Field, patch.Value)
		return &row, domain.JobStats{}, nil
	}
	return fn(call, rowID, patch)
}

func (f *fakeJobClient) DeleteRow(_ context.Context, _ string, rowID int64) (domain.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, rowID)
	return f.deleteStats, f.deleteErr
}

func (f *fakeJobClient) ClearAll(context.Context, string) (domain.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return f.clearStats, f.clearErr
}

func (f *fakeJobClient) AddRow(_ context.Context, _ string, draft domain.RowDraft) (*domain.PreviewRow, domain.JobStats, error) {
	f.mu.Lock()
	f.addCalls = append(f.addCalls, draft)
	fn := f.addFn
	f.mu.Unlock()
	if fn == nil {
		return &domain.PreviewRow{ID: 99, GuestName: draft.GuestName, GuestEmail: draft.GuestEmail, TicketType: draft.TicketType, Status: domain.RowStatusValid}, domain.JobStats{}, nil
	}
	return fn(draft)
}

func (f *fakeJobClient) Confirm(context.Context, string, string, string) (domain.ConfirmOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	return f.confirmOutcome, f.confirmErr
}

func (f *fakeJobClient) ListTicketTypes(context.Context) ([]domain.TicketType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickets, f.ticketsErr
}

func (f *fakeJobClient) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetchCalls)
}

func (f *fakeJobClient) lastFetch() domain.RowFilter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fetchCalls) == 0 {
		return domain.RowFilter{}
	}
	return f.fetchCalls[len(f.fetchCalls)-1]
}

func (f *fakeJobClient) patches() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.patchCalls...)
}

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
	err     error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: map[string][]byte{}}
}

func (m *memoryStorage) Upload(_ context.Context, bucket, objectName, _ string, reader io.Reader, _ int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	m.objects[objectName] = buf.Bytes()
	return "http://minio.local/" + bucket + "/" + objectName, nil
}

func (m *memoryStorage) Remove(_ context.Context, _ string, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	m.removed = append(m.removed, objectName)
	return nil
}

type recordedFinish struct {
	ID     uuid.UUID
	Status domain.UploadRecordStatus
	Stats  domain.JobStats
}

type memoryRecorder struct {
	mu       sync.Mutex
	started  []domain.UploadRecord
	finished []recordedFinish
}

func (m *memoryRecorder) Started(_ context.Context, record domain.UploadRecord) (*domain.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.New()
	m.started = append(m.started, record)
	return &record, nil
}

func (m *memoryRecorder) Finished(_ context.Context, id uuid.UUID, status domain.UploadRecordStatus, stats domain.JobStats, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, recordedFinish{ID: id, Status: status, Stats: stats})
	return nil
}

func (m *memoryRecorder) statuses() []domain.UploadRecordStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UploadRecordStatus, 0, len(m.finished))
	for _, f := range m.finished {
		out = append(out, f.Status)
	}
	return out
}
