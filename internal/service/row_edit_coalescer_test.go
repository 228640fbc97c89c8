package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
)

type recordingSink struct {
	mu       sync.Mutex
	local    []patchCall
	patched  []domain.PreviewRow
	overlays []*domain.FieldPatch
	invalid  map[int64]domain.FieldErrors
	stats    *domain.JobStats
}

func newRecordingSink() *recordingSink {
	return &recordingSink{invalid: map[int64]domain.FieldErrors{}}
}

func (s *recordingSink) ApplyLocalEdit(rowID int64, patch domain.FieldPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, patchCall{RowID: rowID, Patch: patch})
}

func (s *recordingSink) ApplyPatchedRow(row domain.PreviewRow, stats domain.JobStats, overlay *domain.FieldPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patched = append(s.patched, row)
	s.overlays = append(s.overlays, overlay)
	s.stats = &stats
}

func (s *recordingSink) MarkRowInvalid(rowID int64, errs domain.FieldErrors, stats *domain.JobStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalid[rowID] = errs
	if stats != nil {
		s.stats = stats
	}
}

func newTestCoalescer(client *fakeJobClient, sink RowSink, sched Scheduler) *RowEditCoalescer {
	return NewRowEditCoalescer(context.Background(), client, "job-1", sink, RowEditCoalescerConfig{
		Debounce:  500 * time.Millisecond,
		Scheduler: sched,
	})
}

func TestRowEditCoalescer_RapidEditsSendOnePatch(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	for _, v := range []string{"A", "An", "Ann", "Anna"} {
		require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, v))
		sched.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, client.patches(), "still inside the debounce window")
	assert.Len(t, sink.local, 4, "every keystroke shows locally")

	sched.Advance(400 * time.Millisecond)

	calls := client.patches()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.FieldPatch{Field: domain.FieldGuestName, Value: "Anna"}, calls[0].Patch)
	require.Len(t, sink.patched, 1)
	assert.Equal(t, "Anna", sink.patched[0].GuestName)
	assert.False(t, co.Busy(1))
}

func TestRowEditCoalescer_RowsAreIndependent(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{}
	co := newTestCoalescer(client, newRecordingSink(), sched)

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestEmail, "a@example.com"))
	sched.Advance(300 * time.Millisecond)
	require.NoError(t, co.OnFieldChange(2, domain.FieldCompany, "Acme"))
	sched.Advance(200 * time.Millisecond)

	calls := client.patches()
	require.Len(t, calls, 1, "row 2 must not delay row 1")
	assert.Equal(t, int64(1), calls[0].RowID)

	sched.Advance(300 * time.Millisecond)
	calls = client.patches()
	require.Len(t, calls, 2)
	assert.Equal(t, int64(2), calls[1].RowID)
}

func TestRowEditCoalescer_LatestFieldOnRowWins(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{}
	co := newTestCoalescer(client, newRecordingSink(), sched)

	require.NoError(t, co.OnFieldChange(3, domain.FieldGuestName, "Bea"))
	require.NoError(t, co.OnFieldChange(3, domain.FieldGuestEmail, "bea@example.com"))
	sched.Advance(time.Second)

	calls := client.patches()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.FieldGuestEmail, calls[0].Patch.Field)
}

func TestRowEditCoalescer_SerialisesPatchesPerRow(t *testing.T) {
	sched := &manualScheduler{}
	entered := make(chan struct{})
	release := make(chan struct{})
	client := &fakeJobClient{}
	client.patchFn = func(call int, rowID int64, patch domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		row := domain.PreviewRow{ID: rowID, GuestName: patch.Value, Status: domain.RowStatusValid}
		return &row, domain.JobStats{TotalCount: 1, ValidCount: 1}, nil
	}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "first"))
	finished := make(chan struct{})
	go func() {
		sched.Advance(500 * time.Millisecond)
		close(finished)
	}()
	<-entered

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "second"))
	sched.Advance(500 * time.Millisecond)
	assert.Len(t, client.patches(), 1, "no second patch while the first is in flight")
	assert.True(t, co.Busy(1))

	close(release)
	<-finished

	calls := client.patches()
	require.Len(t, calls, 2)
	assert.Equal(t, "second", calls[1].Patch.Value)

	require.Len(t, sink.patched, 2)
	require.NotNil(t, sink.overlays[0], "first response must carry the newer local value")
	assert.Equal(t, "second", sink.overlays[0].Value)
	assert.Nil(t, sink.overlays[1])
	assert.Equal(t, "second", sink.patched[1].GuestName)
	assert.False(t, co.Busy(1))
}

func TestRowEditCoalescer_ValidationErrorMarksRowInvalid(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{patchFn: func(int, int64, domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
		return nil, domain.JobStats{}, &domain.RowValidationError{
			Status:  400,
			Message: "Validation failed.",
			Fields:  domain.FieldErrors{domain.FieldGuestEmail: "Enter a valid email address."},
			Stats:   &domain.JobStats{TotalCount: 2, ValidCount: 0, InvalidCount: 2},
		}
	}}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	require.NoError(t, co.OnFieldChange(2, domain.FieldGuestEmail, "not-an-email"))
	sched.Advance(500 * time.Millisecond)

	assert.Equal(t, "Enter a valid email address.", sink.invalid[2][domain.FieldGuestEmail])
	require.NotNil(t, sink.stats)
	assert.Equal(t, 2, sink.stats.InvalidCount)
	assert.Empty(t, sink.patched)
}

func TestRowEditCoalescer_TransportErrorBecomesGeneralError(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{patchFn: func(int, int64, domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
		return nil, domain.JobStats{}, domain.NewServiceError("patch row", 0, "", context.DeadlineExceeded)
	}}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	require.NoError(t, co.OnFieldChange(4, domain.FieldCompany, "Acme"))
	sched.Advance(500 * time.Millisecond)

	assert.Equal(t, domain.FallbackServiceMessage, sink.invalid[4][domain.ErrorKeyGeneral])
	assert.Nil(t, sink.stats)
}

func TestRowEditCoalescer_CloseDropsPendingAndLateResponses(t *testing.T) {
	sched := &manualScheduler{}
	entered := make(chan struct{})
	release := make(chan struct{})
	client := &fakeJobClient{}
	client.patchFn = func(call int, rowID int64, _ domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
		close(entered)
		<-release
		return &domain.PreviewRow{ID: rowID}, domain.JobStats{}, nil
	}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "x"))
	require.NoError(t, co.OnFieldChange(2, domain.FieldGuestName, "y"))
	sched.Advance(100 * time.Millisecond)
	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "xx"))

	finished := make(chan struct{})
	go func() {
		sched.Advance(400 * time.Millisecond)
		close(finished)
	}()
	<-entered
	co.Close()
	co.Close()
	close(release)
	<-finished

	sched.Advance(time.Second)
	assert.Len(t, client.patches(), 1)
	assert.Empty(t, sink.patched)
	assert.Zero(t, sched.Pending())

	err := co.OnFieldChange(1, domain.FieldGuestName, "late")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRowEditCoalescer_RejectsUnknownField(t *testing.T) {
	co := newTestCoalescer(&fakeJobClient{}, newRecordingSink(), &manualScheduler{})

	err := co.OnFieldChange(1, "status", "valid")

	assert.ErrorIs(t, err, ErrUnknownField)
	assert.True(t, IsPrecondition(err))
}

func TestRowEditCoalescer_ForgetCancelsPendingEdit(t *testing.T) {
	sched := &manualScheduler{}
	client := &fakeJobClient{}
	co := newTestCoalescer(client, newRecordingSink(), sched)

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "gone"))
	require.NoError(t, co.OnFieldChange(2, domain.FieldGuestName, "kept"))
	co.Forget(1)
	co.Forget(3)
	sched.Advance(time.Second)

	calls := client.patches()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(2), calls[0].RowID)
	assert.False(t, co.Busy(1))
}

func TestRowEditCoalescer_ForgetDropsInFlightResponse(t *testing.T) {
	sched := &manualScheduler{}
	entered := make(chan struct{})
	release := make(chan struct{})
	client := &fakeJobClient{}
	client.patchFn = func(call int, rowID int64, _ domain.FieldPatch) (*domain.PreviewRow, domain.JobStats, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return &domain.PreviewRow{ID: rowID, GuestName: "server"}, domain.JobStats{TotalCount: 1}, nil
	}
	sink := newRecordingSink()
	co := newTestCoalescer(client, sink, sched)

	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "x"))
	finished := make(chan struct{})
	go func() {
		sched.Advance(500 * time.Millisecond)
		close(finished)
	}()
	<-entered
	co.Forget(1)
	require.NoError(t, co.OnFieldChange(1, domain.FieldGuestName, "again"))
	close(release)
	<-finished

	assert.Empty(t, sink.patched, "the forgotten patch response is dropped")
	assert.True(t, co.Busy(1), "the newer edit is still waiting")

	sched.Advance(500 * time.Millisecond)
	require.Len(t, client.patches(), 2)
	require.Len(t, sink.patched, 1)
	assert.False(t, co.Busy(1))
}
