package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/repository/ports"
	"github.com/njprem/Visitor_Invite_Console/internal/util"
)

const (
	defaultSessionTTL   = 2 * time.Hour
	defaultSweepEvery   = time.Minute
	defaultOwnerMaximum = 3
)

// ClientFactory builds a Job Service client that authenticates with tokens.
type ClientFactory func(tokens util.TokenSource) ports.ValidationJobClient

type BulkSessionManagerConfig struct {
	// Session is the template every new controller is built from. Owner and
	// OnSent are filled in per session.
	Session       BulkUploadConfig
	TTL           time.Duration
	SweepInterval time.Duration
	MaxPerOwner   int
	Logger        *slog.Logger
}

// BulkSession is one open upload modal hosted by the server.
type BulkSession struct {
	ID         uuid.UUID
	Owner      string
	Controller *BulkUploadController
	AddRow     *AddRowController
	CreatedAt  time.Time

	tokens   *util.SwappableToken
	lastSeen time.Time
}

// BulkSessionManager keeps server-side bulk sessions keyed by id and scoped
// to the user that created them.
type BulkSessionManager struct {
	factory     ClientFactory
	template    BulkUploadConfig
	ttl         time.Duration
	sweepEvery  time.Duration
	maxPerOwner int
	log         *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	sessions  map[uuid.UUID]*BulkSession
	revisions map[string]uint64
}

func NewBulkSessionManager(factory ClientFactory, cfg BulkSessionManagerConfig) *BulkSessionManager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	sweepEvery := cfg.SweepInterval
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}
	maxPerOwner := cfg.MaxPerOwner
	if maxPerOwner <= 0 {
		maxPerOwner = defaultOwnerMaximum
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkSessionManager{
		factory:     factory,
		template:    cfg.Session,
		ttl:         ttl,
		sweepEvery:  sweepEvery,
		maxPerOwner: maxPerOwner,
		log:         logger,
		now:         time.Now,
		sessions:    make(map[uuid.UUID]*BulkSession),
		revisions:   make(map[string]uint64),
	}
}

// Create opens a session for owner and loads the ticket catalog. A catalog
// failure is kept as a notice on the session rather than failing the call.
func (m *BulkSessionManager) Create(ctx context.Context, owner, token string) (*BulkSession, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, util.ErrTokenMissing
	}
	tokens := util.NewSwappableToken(token)
	if _, err := tokens.Token(ctx); err != nil {
		return nil, err
	}

	cfg := m.template
	cfg.Owner = owner
	userOnSent := m.template.OnSent
	cfg.OnSent = func(job domain.UploadJob, stats domain.JobStats) {
		m.bumpRevision(owner)
		if userOnSent != nil {
			userOnSent(job, stats)
		}
	}

	ctrl := NewBulkUploadController(m.factory(tokens), cfg)
	if err := ctrl.LoadTicketTypes(ctx); err != nil {
		m.log.Warn("bulk session opened without ticket types", "owner", owner, "error", err)
	}

	now := m.now()
	session := &BulkSession{
		ID:         uuid.New(),
		Owner:      owner,
		Controller: ctrl,
		AddRow:     NewAddRowController(ctrl),
		CreatedAt:  now,
		tokens:     tokens,
		lastSeen:   now,
	}

	m.mu.Lock()
	evicted := m.evictOldestLocked(owner)
	m.sessions[session.ID] = session
	m.mu.Unlock()

	for _, old := range evicted {
		m.log.Info("bulk session evicted", "session_id", old.ID, "owner", owner)
		old.Controller.Close()
	}
	m.log.Info("bulk session opened", "session_id", session.ID, "owner", owner)
	return session, nil
}

func (m *BulkSessionManager) evictOldestLocked(owner string) []*BulkSession {
	var owned []*BulkSession
	for _, s := range m.sessions {
		if s.Owner == owner {
			owned = append(owned, s)
		}
	}
	if len(owned) < m.maxPerOwner {
		return nil
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].lastSeen.Before(owned[j].lastSeen) })
	evicted := owned[:len(owned)-m.maxPerOwner+1]
	for _, s := range evicted {
		delete(m.sessions, s.ID)
	}
	return evicted
}

// Get returns the session when it belongs to owner. A non-empty token
// replaces the one the session's client sends.
func (m *BulkSessionManager) Get(id uuid.UUID, owner, token string) (*BulkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok || session.Owner != strings.TrimSpace(owner) {
		return nil, ErrSessionNotFound
	}
	session.lastSeen = m.now()
	session.tokens.Set(token)
	return session, nil
}

func (m *BulkSessionManager) Close(id uuid.UUID, owner string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if !ok || session.Owner != strings.TrimSpace(owner) {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	session.Controller.Close()
	m.log.Info("bulk session closed", "session_id", id, "owner", session.Owner)
	return nil
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were removed.
func (m *BulkSessionManager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*BulkSession
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.ttl {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Controller.Close()
		m.log.Info("bulk session expired", "session_id", s.ID, "owner", s.Owner, "idle", now.Sub(s.lastSeen).String())
	}
	return len(expired)
}

// Run sweeps on an interval until ctx is done, then closes every session.
func (m *BulkSessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

func (m *BulkSessionManager) CloseAll() {
	m.mu.Lock()
	all := make([]*BulkSession, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Controller.Close()
	}
}

func (m *BulkSessionManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Revision changes every time one of owner's sessions sends invitations;
// the dashboard reloads its invitation list when it sees a new value.
func (m *BulkSessionManager) Revision(owner string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revisions[strings.TrimSpace(owner)]
}

func (m *BulkSessionManager) bumpRevision(owner string) {
	m.mu.Lock()
	m.revisions[owner]++
	m.mu.Unlock()
}
