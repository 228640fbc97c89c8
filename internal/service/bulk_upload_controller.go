package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
)

type ControllerState int

const (
	StateEmpty ControllerState = iota
	StateUploading
	StateValidating
	StateReady
	StateConfirming
	StateClosed
)

func (s ControllerState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateUploading:
		return "uploading"
	case StateValidating:
		return "validating"
	case StateReady:
		return "ready"
	case StateConfirming:
		return "confirming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (s ControllerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const (
	expireDateLayout   = "2006-01-02"
	maxNotices         = 50
	historyTimeout     = 5 * time.Second
	defaultMaxUpload   = 5 * 1024 * 1024
	defaultSearchDelay = 400 * time.Millisecond
	defaultReloadDelay = 1500 * time.Millisecond
)

// UploadRecorder keeps the console's audit trail of bulk uploads.
type UploadRecorder interface {
	Started(ctx context.Context, record domain.UploadRecord) (*domain.UploadRecord, error)
	Finished(ctx context.Context, id uuid.UUID, status domain.UploadRecordStatus, stats domain.JobStats, message string) error
}

type BulkUploadConfig struct {
	PollInterval   time.Duration
	EditDebounce   time.Duration
	SearchDebounce time.Duration
	MaxUploadBytes int64
	Scheduler      Scheduler
	Logger         *slog.Logger
	Observer       Observer

	// Storage and Bucket enable archiving of uploaded files.
	Storage ports.ObjectStorage
	Bucket  string
	History UploadRecorder
	Owner   string

	// OnSent runs once, outside any lock, after a successful confirm.
	OnSent func(job domain.UploadJob, stats domain.JobStats)
}

type UploadFile struct {
	Name    string
	Content []byte
}

type ConfirmOptions struct {
	// AcknowledgeSkipped confirms that invalid and duplicate rows will be
	// left out of the send.
	AcknowledgeSkipped bool
}

// BulkSnapshot is a copy of everything the preview screen renders.
type BulkSnapshot struct {
	State       ControllerState       `json:"state"`
	Job         *domain.UploadJob     `json:"job,omitempty"`
	Rows        []domain.PreviewRow   `json:"rows"`
	Stats       domain.JobStats       `json:"stats"`
	Pagination  domain.Pagination     `json:"pagination"`
	Filter      domain.RowFilter      `json:"filter"`
	Summary     domain.ConfirmSummary `json:"summary"`
	TicketTypes []domain.TicketType   `json:"ticket_types"`
	Notices     []domain.Notice       `json:"notices"`
	PollError   string                `json:"poll_error,omitempty"`
	// Loading is set from validation completion until the first rows page
	// has been applied. Confirm is refused meanwhile.
	Loading    bool   `json:"loading"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// BulkUploadController owns one bulk-upload session from file selection to
// confirm. Its lock is never held across a Job Service call; responses that
// arrive after the session moved on are dropped.
type BulkUploadController struct {
	client         ports.ValidationJobClient
	poller         *JobPoller
	sched          Scheduler
	log            *slog.Logger
	observer       Observer
	storage        ports.ObjectStorage
	bucket         string
	history        UploadRecorder
	owner          string
	onSent         func(domain.UploadJob, domain.JobStats)
	editDebounce   time.Duration
	searchDebounce time.Duration
	reloadDelay    time.Duration
	maxUploadBytes int64
	now            func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	state       ControllerState
	job         *domain.UploadJob
	fileKey     string
	recordID    uuid.UUID
	rows        []domain.PreviewRow
	stats       domain.JobStats
	pagination  domain.Pagination
	query       *RowFilterQuery
	fetchSeq    uint64
	searchSeq   uint64
	searchTimer Timer
	loading     bool
	reloadTimer Timer
	coalescer   *RowEditCoalescer
	catalog     domain.TicketCatalog
	notices     []domain.Notice
	pollErr     string
}

func NewBulkUploadController(client ports.ValidationJobClient, cfg BulkUploadConfig) *BulkUploadController {
	sched := cfg.Scheduler
	if sched == nil {
		sched = RealScheduler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	searchDebounce := cfg.SearchDebounce
	if searchDebounce <= 0 {
		searchDebounce = defaultSearchDelay
	}
	reloadDelay := cfg.PollInterval
	if reloadDelay <= 0 {
		reloadDelay = defaultReloadDelay
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &BulkUploadController{
		client:         client,
		sched:          sched,
		log:            logger,
		observer:       observerOrNoop(cfg.Observer),
		storage:        cfg.Storage,
		bucket:         strings.TrimSpace(cfg.Bucket),
		history:        cfg.History,
		owner:          cfg.Owner,
		onSent:         cfg.OnSent,
		editDebounce:   cfg.EditDebounce,
		searchDebounce: searchDebounce,
		reloadDelay:    reloadDelay,
		maxUploadBytes: maxUpload,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
		state:          StateEmpty,
		query:          NewRowFilterQuery(),
		pagination:     domain.Pagination{}.Normalize(),
	}
	c.poller = NewJobPoller(client, JobPollerConfig{
		Interval:  cfg.PollInterval,
		Scheduler: sched,
		Logger:    logger,
		Observer:  cfg.Observer,
	}, JobPollerHandlers{
		OnUpdate: c.onPollUpdate,
		OnDone:   c.onPollDone,
		OnFailed: c.onPollFailed,
		OnError:  c.onPollError,
	})
	c.observer.SessionOpened()
	return c
}

func (c *BulkUploadController) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *BulkUploadController) Snapshot() BulkSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := BulkSnapshot{
		State:       c.state,
		Rows:        make([]domain.PreviewRow, len(c.rows)),
		Stats:       c.stats,
		Pagination:  c.pagination,
		Filter:      c.query.Filter(),
		Summary:     c.summaryLocked(),
		TicketTypes: c.catalog.Types(),
		Notices:     append([]domain.Notice(nil), c.notices...),
		PollError:   c.pollErr,
		Loading:     c.loading,
		ArchiveKey:  c.fileKey,
	}
	for i, r := range c.rows {
		snap.Rows[i] = r.Clone()
	}
	if c.job != nil {
		job := *c.job
		snap.Job = &job
	}
	return snap
}

// LoadTicketTypes fetches the ticket reference data for this session. A
// failure leaves the catalog empty; ticket values are then sent as typed.
func (c *BulkUploadController) LoadTicketTypes(ctx context.Context) error {
	opCtx, done := c.opContext(ctx)
	defer done()

	types, err := c.client.ListTicketTypes(opCtx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return precondition("load ticket types", ErrSessionClosed)
	}
	if err != nil {
		c.log.Warn("ticket types unavailable", "error", err)
		c.noticeLocked(domain.NoticeWarning, "Ticket types unavailable", domain.UserMessage(err))
		return err
	}
	c.catalog = domain.NewTicketCatalog(types)
	return nil
}

func (c *BulkUploadController) TicketTypes() []domain.TicketType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog.Types()
}

// Upload checks the file and expiry date locally, then hands the file to
// the Job Service and starts watching validation.
func (c *BulkUploadController) Upload(ctx context.Context, file UploadFile, expireDate, defaultMessage string) (domain.UploadJob, error) {
	const op = "upload"

	c.mu.Lock()
	if err := c.uploadPreconditionsLocked(file, expireDate); err != nil {
		c.mu.Unlock()
		return domain.UploadJob{}, err
	}
	c.state = StateUploading
	c.mu.Unlock()

	filename := strings.TrimSpace(file.Name)
	fileKey := c.archive(ctx, filename, file.Content)

	opCtx, done := c.opContext(ctx)
	jobID, err := c.client.Upload(opCtx, ports.UploadRequest{
		Filename:               filename,
		Content:                file.Content,
		ExpireDate:             expireDate,
		DefaultPersonalMessage: defaultMessage,
	})
	done()
	c.observer.UploadCompleted(err)

	c.mu.Lock()
	if c.state != StateUploading {
		c.mu.Unlock()
		c.removeArchive(fileKey)
		return domain.UploadJob{}, precondition(op, ErrSessionClosed)
	}
	if err != nil {
		c.state = StateEmpty
		c.noticeLocked(domain.NoticeError, "Upload failed", domain.UserMessage(err))
		c.mu.Unlock()
		c.removeArchive(fileKey)
		c.log.Warn("bulk upload rejected", "filename", filename, "error", err)
		return domain.UploadJob{}, err
	}

	job := domain.UploadJob{
		JobID:                  jobID,
		Status:                 domain.JobStatusPending,
		Filename:               filename,
		ExpireDate:             expireDate,
		DefaultPersonalMessage: defaultMessage,
		UploadedAt:             c.now().UTC(),
	}
	c.job = &job
	c.fileKey = fileKey
	c.state = StateValidating
	c.noticeLocked(domain.NoticeInfo, "Upload Successful", "Validation started")
	// Started under the lock so a concurrent Close always finds it polling.
	c.poller.Start(c.ctx, jobID)
	c.mu.Unlock()

	c.log.Info("bulk upload accepted", "job_id", jobID, "filename", filename, "bytes", len(file.Content))
	c.recordStarted(job, fileKey)
	return job, nil
}

func (c *BulkUploadController) uploadPreconditionsLocked(file UploadFile, expireDate string) error {
	const op = "upload"
	switch {
	case c.state == StateClosed:
		return precondition(op, ErrSessionClosed)
	case c.state != StateEmpty:
		return precondition(op, ErrInvalidState)
	case strings.TrimSpace(file.Name) == "" && file.Content == nil:
		return precondition(op, ErrNoFile)
	case len(file.Content) == 0:
		return precondition(op, ErrFileEmpty)
	case int64(len(file.Content)) > c.maxUploadBytes:
		return precondition(op, ErrFileTooLarge)
	}
	return c.checkExpireDate(op, expireDate, true)
}

func (c *BulkUploadController) checkExpireDate(op, expireDate string, required bool) error {
	expireDate = strings.TrimSpace(expireDate)
	if expireDate == "" {
		if required {
			return precondition(op, ErrExpireDateRequired)
		}
		return nil
	}
	date, err := time.Parse(expireDateLayout, expireDate)
	if err != nil {
		return precondition(op, ErrExpireDateInvalid)
	}
	now := c.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if date.Before(today) {
		return precondition(op, ErrExpireDateInPast)
	}
	return nil
}

// SetExpireDate changes the date sent with confirm. An empty value clears it.
func (c *BulkUploadController) SetExpireDate(expireDate string) error {
	if err := c.checkExpireDate("set expire date", expireDate, false); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return precondition("set expire date", ErrInvalidState)
	}
	c.job.ExpireDate = strings.TrimSpace(expireDate)
	return nil
}

func (c *BulkUploadController) SetDefaultMessage(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.job == nil {
		return precondition("set default message", ErrInvalidState)
	}
	c.job.DefaultPersonalMessage = message
	return nil
}

func (c *BulkUploadController) onPollUpdate(jobID string, page *domain.RowPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validatingLocked(jobID) {
		return
	}
	c.pollErr = ""
	c.job.Status = page.JobStatus
	c.stats = page.Stats
	if page.JobStatus != domain.JobStatusDone {
		c.rows = cloneRows(page.Rows)
		c.pagination = page.Pagination
	}
}

func (c *BulkUploadController) onPollDone(jobID string, page *domain.RowPage) {
	c.mu.Lock()
	if !c.validatingLocked(jobID) {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.coalescer = NewRowEditCoalescer(c.ctx, c.client, jobID, controllerSink{c}, RowEditCoalescerConfig{
		Debounce:  c.editDebounce,
		Scheduler: c.sched,
		Logger:    c.log,
		Observer:  c.observer,
	})
	c.noticeLocked(domain.NoticeSuccess, "Validation complete",
		fmt.Sprintf("%d valid, %d invalid of %d rows", page.Stats.ValidCount, page.Stats.InvalidCount, page.Stats.TotalCount))
	c.loading = true
	recordID := c.recordID
	fetch := c.beginFetchLocked()
	c.mu.Unlock()

	c.recordFinished(recordID, domain.UploadRecordStatusReady, page.Stats, "")
	_ = c.runFetch(c.ctx, fetch)
}

func (c *BulkUploadController) onPollFailed(jobID string, page *domain.RowPage) {
	c.mu.Lock()
	if !c.validatingLocked(jobID) {
		c.mu.Unlock()
		return
	}
	c.state = StateEmpty
	c.job = nil
	c.rows = nil
	c.stats = page.Stats
	c.noticeLocked(domain.NoticeError, "Validation failed", "The file could not be validated. Please upload it again.")
	recordID := c.recordID
	c.recordID = uuid.Nil
	c.fileKey = ""
	c.mu.Unlock()

	c.recordFinished(recordID, domain.UploadRecordStatusFailed, page.Stats, "validation failed")
}

func (c *BulkUploadController) onPollError(jobID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.validatingLocked(jobID) {
		return
	}
	c.pollErr = domain.UserMessage(err)
}

func (c *BulkUploadController) validatingLocked(jobID string) bool {
	return c.state == StateValidating && c.job != nil && c.job.JobID == jobID
}

// SetSearch stores the search term and fetches once typing settles.
func (c *BulkUploadController) SetSearch(search string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return precondition("search", ErrSessionClosed)
	}
	c.query.SetSearch(search)
	if c.state != StateReady {
		return nil
	}
	c.stopSearchTimerLocked()
	c.searchSeq++
	seq := c.searchSeq
	c.searchTimer = c.sched.AfterFunc(c.searchDebounce, func() { c.fireSearch(seq) })
	return nil
}

func (c *BulkUploadController) fireSearch(seq uint64) {
	c.mu.Lock()
	if c.state != StateReady || seq != c.searchSeq {
		c.mu.Unlock()
		return
	}
	c.searchTimer = nil
	fetch := c.beginFetchLocked()
	ctx := c.ctx
	c.mu.Unlock()

	_ = c.runFetch(ctx, fetch)
}

func (c *BulkUploadController) SetStatus(ctx context.Context, status domain.RowStatus) error {
	return c.applyFilter(ctx, "filter status", func(q *RowFilterQuery) { q.SetStatus(status) })
}

func (c *BulkUploadController) SetStatusFlags(ctx context.Context, showValid, showInvalid bool) error {
	return c.applyFilter(ctx, "filter status", func(q *RowFilterQuery) { q.SetStatusFlags(showValid, showInvalid) })
}

func (c *BulkUploadController) SetTicketType(ctx context.Context, ticketType string) error {
	return c.applyFilter(ctx, "filter ticket type", func(q *RowFilterQuery) { q.SetTicketType(ticketType) })
}

func (c *BulkUploadController) SetPage(ctx context.Context, page int) error {
	return c.applyFilter(ctx, "change page", func(q *RowFilterQuery) { q.SetPage(page) })
}

// applyFilter updates the query and, once rows are ready, fetches at once.
// Before that the change is only stored; validation completion picks it up.
func (c *BulkUploadController) applyFilter(ctx context.Context, op string, update func(*RowFilterQuery)) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return precondition(op, ErrSessionClosed)
	}
	update(c.query)
	if c.state != StateReady {
		c.mu.Unlock()
		return nil
	}
	// A pending search fetch would carry the same query; this one covers it.
	c.stopSearchTimerLocked()
	fetch := c.beginFetchLocked()
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	defer done()
	return c.runFetch(opCtx, fetch)
}

func (c *BulkUploadController) stopSearchTimerLocked() {
	if c.searchTimer != nil {
		c.searchTimer.Stop()
		c.searchTimer = nil
	}
	c.searchSeq++
}

type fetchTicket struct {
	seq    uint64
	jobID  string
	filter domain.RowFilter
}

func (c *BulkUploadController) beginFetchLocked() fetchTicket {
	c.fetchSeq++
	return fetchTicket{seq: c.fetchSeq, jobID: c.job.JobID, filter: c.query.Filter()}
}

func (c *BulkUploadController) currentFetchLocked(t fetchTicket) bool {
	return c.state != StateClosed && t.seq == c.fetchSeq && c.job != nil && c.job.JobID == t.jobID
}

// runFetch issues one rows request; only the newest request's response is
// applied.
func (c *BulkUploadController) runFetch(ctx context.Context, t fetchTicket) error {
	_, err := c.fetch(ctx, t, false)
	return err
}

// fetch returns the page that was applied, or nil when the response was
// superseded. With stepBack an empty page past the first is replaced by the
// previous page.
func (c *BulkUploadController) fetch(ctx context.Context, t fetchTicket, stepBack bool) (*domain.RowPage, error) {
	page, err := c.client.FetchRows(ctx, t.jobID, t.filter)

	c.mu.Lock()
	if !c.currentFetchLocked(t) {
		c.mu.Unlock()
		return nil, nil
	}
	if err != nil {
		c.noticeLocked(domain.NoticeError, "Error", domain.UserMessage(err))
		c.scheduleReloadLocked()
		c.mu.Unlock()
		return nil, err
	}
	if stepBack && len(page.Rows) == 0 && t.filter.Page > 1 {
		c.query.SetPage(t.filter.Page - 1)
		next := c.beginFetchLocked()
		c.mu.Unlock()
		return c.fetch(ctx, next, false)
	}
	c.applyPageLocked(page)
	c.mu.Unlock()
	return page, nil
}

func (c *BulkUploadController) applyPageLocked(page *domain.RowPage) {
	c.loading = false
	c.stopReloadTimerLocked()
	c.rows = cloneRows(page.Rows)
	c.stats = page.Stats
	c.pagination = page.Pagination
	if c.job != nil && page.JobStatus != "" {
		c.job.Status = page.JobStatus
	}
}

// scheduleReloadLocked retries the rows fetch after a failure while the
// first page after validation is still missing.
func (c *BulkUploadController) scheduleReloadLocked() {
	if !c.loading || c.state != StateReady || c.reloadTimer != nil {
		return
	}
	c.reloadTimer = c.sched.AfterFunc(c.reloadDelay, c.reload)
}

func (c *BulkUploadController) reload() {
	c.mu.Lock()
	c.reloadTimer = nil
	if !c.loading || c.state != StateReady {
		c.mu.Unlock()
		return
	}
	fetch := c.beginFetchLocked()
	ctx := c.ctx
	c.mu.Unlock()

	_ = c.runFetch(ctx, fetch)
}

func (c *BulkUploadController) stopReloadTimerLocked() {
	if c.reloadTimer != nil {
		c.reloadTimer.Stop()
		c.reloadTimer = nil
	}
}

// EditField records one inline edit. The patch is sent by the row's
// coalescer once the user stops typing.
func (c *BulkUploadController) EditField(rowID int64, field, value string) error {
	const op = "edit field"

	c.mu.Lock()
	if err := c.requireReadyLocked(op); err != nil {
		c.mu.Unlock()
		return err
	}
	if field == domain.FieldTicketType && !c.catalog.Empty() && strings.TrimSpace(value) != "" {
		ticket, ok := c.catalog.Resolve(value)
		if !ok {
			c.mu.Unlock()
			return precondition(op, ErrTicketTypeUnknown)
		}
		value = string(ticket.ID)
	}
	co := c.coalescer
	c.mu.Unlock()

	return co.OnFieldChange(rowID, field, value)
}

func (c *BulkUploadController) DeleteRow(ctx context.Context, rowID int64) error {
	const op = "delete row"

	c.mu.Lock()
	if err := c.requireReadyLocked(op); err != nil {
		c.mu.Unlock()
		return err
	}
	jobID := c.job.JobID
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	defer done()

	stats, err := c.client.DeleteRow(opCtx, jobID, rowID)

	c.mu.Lock()
	if !c.sameJobLocked(jobID) {
		c.mu.Unlock()
		return precondition(op, ErrSessionClosed)
	}
	if err != nil {
		c.noticeLocked(domain.NoticeError, "Error", domain.UserMessage(err))
		c.mu.Unlock()
		return err
	}
	c.stats = stats
	c.rows = removeRow(c.rows, rowID)
	c.noticeLocked(domain.NoticeSuccess, "Deleted!", fmt.Sprintf("Row #%d removed.", rowID))
	co := c.coalescer
	fetch := c.beginFetchLocked()
	c.mu.Unlock()

	if co != nil {
		co.Forget(rowID)
	}
	_, err = c.fetch(opCtx, fetch, true)
	return err
}

func (c *BulkUploadController) ClearAll(ctx context.Context) error {
	const op = "clear rows"

	c.mu.Lock()
	if err := c.requireReadyLocked(op); err != nil {
		c.mu.Unlock()
		return err
	}
	jobID := c.job.JobID
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	defer done()

	stats, err := c.client.ClearAll(opCtx, jobID)

	c.mu.Lock()
	if !c.sameJobLocked(jobID) {
		c.mu.Unlock()
		return precondition(op, ErrSessionClosed)
	}
	if err != nil {
		c.noticeLocked(domain.NoticeError, "Error", domain.UserMessage(err))
		c.mu.Unlock()
		return err
	}
	// Invalidate in-flight fetches and edits for rows that no longer exist.
	c.fetchSeq++
	c.loading = false
	c.stopReloadTimerLocked()
	c.rows = nil
	c.stats = stats
	c.query.SetPage(1)
	c.pagination = domain.Pagination{}.Normalize()
	old := c.coalescer
	c.coalescer = NewRowEditCoalescer(c.ctx, c.client, jobID, controllerSink{c}, RowEditCoalescerConfig{
		Debounce:  c.editDebounce,
		Scheduler: c.sched,
		Logger:    c.log,
		Observer:  c.observer,
	})
	c.noticeLocked(domain.NoticeSuccess, "Cleared!", "All preview data cleared.")
	c.mu.Unlock()

	old.Close()
	return nil
}

// AddRow submits a manually entered row, then refetches the current page so
// the preview only shows the new row where the active filter places it.
// Ticket types are resolved against the catalog and sent by id.
func (c *BulkUploadController) AddRow(ctx context.Context, draft domain.RowDraft) (*domain.PreviewRow, error) {
	const op = "add row"

	c.mu.Lock()
	if err := c.requireReadyLocked(op); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	if !c.catalog.Empty() {
		ticket, ok := c.catalog.Resolve(draft.TicketType)
		if !ok {
			c.mu.Unlock()
			return nil, &domain.RowValidationError{
				Message: "Ticket type is required.",
				Fields:  domain.FieldErrors{domain.FieldTicketType: "Select a valid ticket type."},
			}
		}
		draft.TicketType = string(ticket.ID)
	}
	jobID := c.job.JobID
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	defer done()

	row, stats, err := c.client.AddRow(opCtx, jobID, draft)

	c.mu.Lock()
	if !c.sameJobLocked(jobID) {
		c.mu.Unlock()
		return nil, precondition(op, ErrSessionClosed)
	}
	if err != nil {
		if !domain.IsRowValidation(err) {
			c.noticeLocked(domain.NoticeError, "Error", domain.UserMessage(err))
		}
		c.mu.Unlock()
		return nil, err
	}
	added := row.Clone()
	c.displayTicketLocked(&added)
	c.stats = stats
	c.noticeLocked(domain.NoticeSuccess, "Added!", fmt.Sprintf("%s was added.", added.GuestEmail))
	fetch := c.beginFetchLocked()
	c.mu.Unlock()

	// The row is stored; a failed refresh is already shown as a notice.
	_ = c.runFetch(opCtx, fetch)
	return &added, nil
}

// ConfirmSummary describes what confirm would send right now.
func (c *BulkUploadController) ConfirmSummary() domain.ConfirmSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summaryLocked()
}

// summaryLocked trusts the server's valid count and subtracts duplicates it
// can see among the loaded rows.
func (c *BulkUploadController) summaryLocked() domain.ConfirmSummary {
	summary := domain.ConfirmSummary{Stats: c.stats}
	hiddenDuplicates := 0
	for _, r := range c.rows {
		if r.Duplicate || r.FileLevelDuplicate {
			summary.DuplicatesSeen++
			if !r.ErrorFound {
				hiddenDuplicates++
			}
		}
	}
	summary.Sendable = c.stats.ValidCount - hiddenDuplicates
	if summary.Sendable < 0 {
		summary.Sendable = 0
	}
	return summary
}

// Confirm finalises the job. Invalid and duplicate rows are skipped by the
// server; unless the caller acknowledged that, a *ConfirmationRequiredError
// is returned first. Quota and generic failures leave the session Ready.
func (c *BulkUploadController) Confirm(ctx context.Context, opts ConfirmOptions) (domain.ConfirmOutcome, error) {
	const op = "confirm"

	c.mu.Lock()
	if err := c.requireReadyLocked(op); err != nil {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, err
	}
	if c.loading {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, precondition(op, ErrRowsLoading)
	}
	if len(c.rows) == 0 && c.stats.TotalCount == 0 {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, precondition(op, ErrNoRows)
	}
	if strings.TrimSpace(c.job.ExpireDate) == "" {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, precondition(op, ErrExpireDateRequired)
	}
	summary := c.summaryLocked()
	if summary.NeedsAcknowledgement() && !opts.AcknowledgeSkipped {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, &ConfirmationRequiredError{Summary: summary}
	}
	c.state = StateConfirming
	job := *c.job
	c.mu.Unlock()

	opCtx, done := c.opContext(ctx)
	outcome, err := c.client.Confirm(opCtx, job.JobID, job.ExpireDate, job.DefaultPersonalMessage)
	done()
	if err == nil {
		c.observer.ConfirmCompleted(outcome.Kind)
	}

	c.mu.Lock()
	if c.state != StateConfirming {
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, precondition(op, ErrSessionClosed)
	}
	if err != nil {
		c.state = StateReady
		c.noticeLocked(domain.NoticeError, "Error", domain.UserMessage(err))
		c.mu.Unlock()
		return domain.ConfirmOutcome{}, err
	}

	switch outcome.Kind {
	case domain.ConfirmSent:
		c.job.Status = domain.JobStatusConfirmed
		job = *c.job
		stats := c.stats
		recordID := c.recordID
		message := outcome.Message
		if message == "" {
			message = "Invitations are being sent."
		}
		c.noticeLocked(domain.NoticeSuccess, "Success", message)
		closing := c.closeLocked()
		c.mu.Unlock()

		closing.finish()
		c.recordFinished(recordID, domain.UploadRecordStatusConfirmed, stats, "")
		c.observer.SessionClosed(StateConfirming)
		c.log.Info("bulk invitations confirmed", "job_id", job.JobID, "valid", stats.ValidCount)
		if c.onSent != nil {
			c.onSent(job, stats)
		}
		return outcome, nil
	case domain.ConfirmQuotaExceeded:
		c.state = StateReady
		c.noticeLocked(domain.NoticeWarning, "Low Quota", outcome.Message)
		c.mu.Unlock()
		return outcome, &domain.QuotaError{Message: outcome.Message}
	default:
		c.state = StateReady
		c.noticeLocked(domain.NoticeError, "Error", outcome.Message)
		c.mu.Unlock()
		return outcome, &domain.ConfirmError{Message: outcome.Message}
	}
}

// Close ends the session from any state. Timers stop and every response
// still in flight is dropped on arrival. Safe to call more than once.
func (c *BulkUploadController) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	recordID := c.recordID
	stats := c.stats
	closing := c.closeLocked()
	c.mu.Unlock()

	closing.finish()
	c.recordFinished(recordID, domain.UploadRecordStatusDiscarded, stats, "closed before confirm")
	c.observer.SessionClosed(prev)
}

type closing struct {
	poller    *JobPoller
	coalescer *RowEditCoalescer
}

// finish stops the collaborators that take their own locks before calling
// back into the controller; it runs after the controller lock is released.
func (cl closing) finish() {
	cl.poller.Stop()
	if cl.coalescer != nil {
		cl.coalescer.Close()
	}
}

func (c *BulkUploadController) closeLocked() closing {
	c.state = StateClosed
	c.stopSearchTimerLocked()
	c.stopReloadTimerLocked()
	c.loading = false
	c.fetchSeq++
	c.cancel()
	out := closing{poller: c.poller, coalescer: c.coalescer}
	c.coalescer = nil
	c.recordID = uuid.Nil
	return out
}

func (c *BulkUploadController) requireReadyLocked(op string) error {
	switch c.state {
	case StateReady:
		return nil
	case StateClosed:
		return precondition(op, ErrSessionClosed)
	default:
		return precondition(op, ErrInvalidState)
	}
}

func (c *BulkUploadController) sameJobLocked(jobID string) bool {
	return (c.state == StateReady || c.state == StateConfirming) && c.job != nil && c.job.JobID == jobID
}

func (c *BulkUploadController) noticeLocked(level domain.NoticeLevel, title, message string) {
	c.notices = append(c.notices, domain.Notice{Level: level, Title: title, Message: message, At: c.now().UTC()})
	if len(c.notices) > maxNotices {
		c.notices = c.notices[len(c.notices)-maxNotices:]
	}
}

// opContext is cancelled by either the caller or Close.
func (c *BulkUploadController) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	session := c.ctx
	c.mu.Unlock()

	opCtx, cancel := context.WithCancel(session)
	if ctx == nil {
		return opCtx, cancel
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (c *BulkUploadController) archive(ctx context.Context, filename string, content []byte) string {
	if c.storage == nil || c.bucket == "" {
		return ""
	}
	key := buildArchiveKey(uuid.New(), filename)
	if _, err := c.storage.Upload(ctx, c.bucket, key, "text/csv", bytes.NewReader(content), int64(len(content))); err != nil {
		c.log.Warn("archive upload failed", "key", key, "error", err)
		return ""
	}
	return key
}

func (c *BulkUploadController) removeArchive(key string) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.storage.Remove(ctx, c.bucket, key); err != nil {
		c.log.Warn("archive cleanup failed", "key", key, "error", err)
	}
}

func (c *BulkUploadController) recordStarted(job domain.UploadJob, fileKey string) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	rec := domain.UploadRecord{
		JobID:      job.JobID,
		UploadedBy: c.owner,
		Filename:   job.Filename,
		Status:     domain.UploadRecordStatusValidating,
		ExpireDate: job.ExpireDate,
	}
	if fileKey != "" {
		rec.FileKey = &fileKey
	}
	saved, err := c.history.Started(ctx, rec)
	if err != nil {
		c.log.Warn("upload history unavailable", "job_id", job.JobID, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.job == nil || c.job.JobID != job.JobID:
		go c.recordFinished(saved.ID, domain.UploadRecordStatusDiscarded, c.stats, "closed before confirm")
	case c.state == StateClosed && c.job.Status == domain.JobStatusConfirmed:
		go c.recordFinished(saved.ID, domain.UploadRecordStatusConfirmed, c.stats, "")
	case c.state == StateClosed:
		go c.recordFinished(saved.ID, domain.UploadRecordStatusDiscarded, c.stats, "closed before confirm")
	case c.state == StateValidating:
		c.recordID = saved.ID
	default:
		// Validation finished while the record was being written.
		c.recordID = saved.ID
		go c.recordFinished(saved.ID, domain.UploadRecordStatusReady, c.stats, "")
	}
}

func (c *BulkUploadController) recordFinished(id uuid.UUID, status domain.UploadRecordStatus, stats domain.JobStats, message string) {
	if c.history == nil || id == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := c.history.Finished(ctx, id, status, stats, message); err != nil {
		c.log.Warn("upload history update failed", "record_id", id, "status", status, "error", err)
	}
}

func buildArchiveKey(uploadID uuid.UUID, filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == "/" || base == "" {
		base = "upload.csv"
	}
	return fmt.Sprintf("invitations/bulk/%s/%s", uploadID, base)
}

func cloneRows(in []domain.PreviewRow) []domain.PreviewRow {
	out := make([]domain.PreviewRow, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

func removeRow(rows []domain.PreviewRow, rowID int64) []domain.PreviewRow {
	out := rows[:0:0]
	for _, r := range rows {
		if r.ID != rowID {
			out = append(out, r)
		}
	}
	return out
}

// controllerSink applies coalescer results to the controller's rows. Local
// ticket type edits hold an id; rows show the catalog name.
type controllerSink struct {
	c *BulkUploadController
}

func (s controllerSink) ApplyLocalEdit(rowID int64, patch domain.FieldPatch) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.rowIndexLocked(rowID); i >= 0 {
		c.setDisplayedFieldLocked(&c.rows[i], patch)
	}
}

func (s controllerSink) ApplyPatchedRow(row domain.PreviewRow, stats domain.JobStats, overlay *domain.FieldPatch) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateConfirming {
		return
	}
	c.stats = stats
	i := c.rowIndexLocked(row.ID)
	if i < 0 {
		return
	}
	c.displayTicketLocked(&row)
	if overlay != nil {
		c.setDisplayedFieldLocked(&row, *overlay)
	}
	c.rows[i] = row
}

func (s controllerSink) MarkRowInvalid(rowID int64, errs domain.FieldErrors, stats *domain.JobStats) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateConfirming {
		return
	}
	if stats != nil {
		c.stats = *stats
	}
	if i := c.rowIndexLocked(rowID); i >= 0 {
		c.rows[i].MarkInvalid(errs)
	}
}

func (c *BulkUploadController) rowIndexLocked(rowID int64) int {
	for i := range c.rows {
		if c.rows[i].ID == rowID {
			return i
		}
	}
	return -1
}

// displayTicketLocked shows a server-sent ticket id by its catalog name.
func (c *BulkUploadController) displayTicketLocked(row *domain.PreviewRow) {
	if name := c.catalog.DisplayName(row.TicketType); name != "" {
		row.TicketType = name
	}
}

func (c *BulkUploadController) setDisplayedFieldLocked(row *domain.PreviewRow, patch domain.FieldPatch) {
	value := patch.Value
	if patch.Field == domain.FieldTicketType {
		if name := c.catalog.DisplayName(value); name != "" {
			value = name
		}
	}
	row.SetField(patch.Field, value)
}

var _ RowSink = controllerSink{}
