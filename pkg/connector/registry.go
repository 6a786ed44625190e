// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-twitdm/pkg/store"
	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

// RegistryParams are the collaborators injected into a Registry. Store,
// Portals and Puppets are required; Notices may be nil if notice rooms are
// not used; NewClient defaults to a production poll client built from the
// config.
type RegistryParams struct {
	Log       zerolog.Logger
	Config    *Config
	Store     SessionStore
	Portals   PortalResolver
	Puppets   PuppetResolver
	Notices   NoticeRoomCreator
	NewClient ClientFactory
}

// Registry is the process-wide session cache. It guarantees at most one live
// Session per Matrix user ID and, once bound, per Twitter user ID. It is
// constructed once at process start; StopAll tears it down at shutdown.
type Registry struct {
	log       zerolog.Logger
	config    *Config
	store     SessionStore
	portals   PortalResolver
	puppets   PuppetResolver
	notices   NoticeRoomCreator
	newClient ClientFactory

	// mu guards both maps. The maps share Session objects; byTWID only has
	// entries for sessions whose twid is bound.
	mu     sync.RWMutex
	byMXID map[id.UserID]*Session
	byTWID map[int64]*Session
}

func NewRegistry(params RegistryParams) *Registry {
	if params.Config == nil {
		params.Config = &Config{}
	}
	if params.NewClient == nil {
		cfg := params.Config
		params.NewClient = func(log zerolog.Logger) twitdm.Client {
			return twitdm.NewPollClient(log, cfg.Twitter.BaseURL, cfg.Twitter.PollInterval())
		}
	}
	return &Registry{
		log:       params.Log,
		config:    params.Config,
		store:     params.Store,
		portals:   params.Portals,
		puppets:   params.Puppets,
		notices:   params.Notices,
		newClient: params.NewClient,

		byMXID: make(map[id.UserID]*Session),
		byTWID: make(map[int64]*Session),
	}
}

// GetByMXID returns the session for a Matrix user ID. A cache hit returns
// the live instance; a miss falls back to the store. If no record exists and
// create is set, a new record is inserted and cached. Returns (nil, nil)
// when the session does not exist and create is unset.
func (r *Registry) GetByMXID(ctx context.Context, mxid id.UserID, create bool) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byMXID[mxid]; ok {
		return sess, nil
	}
	rec, err := r.store.GetByMXID(ctx, mxid)
	if err != nil {
		return nil, fmt.Errorf("failed to get session from database: %w", err)
	}
	if rec != nil {
		return r.cacheLocked(rec), nil
	}
	if !create {
		return nil, nil
	}
	rec = &store.User{MXID: mxid}
	if err = r.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to insert new session: %w", err)
	}
	return r.cacheLocked(rec), nil
}

// GetByTWID returns the session bound to a Twitter user ID. Twitter IDs are
// only ever bound by a successful connect, so this never creates: a miss in
// both the cache and the store returns (nil, nil).
func (r *Registry) GetByTWID(ctx context.Context, twid int64) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.byTWID[twid]; ok {
		return sess, nil
	}
	rec, err := r.store.GetByTWID(ctx, twid)
	if err != nil {
		return nil, fmt.Errorf("failed to get session from database: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	// The same account may already be cached via its mxid without the twid
	// index entry. Prefer the live instance over a fresh deserialization,
	// and index it so later twid lookups skip the store.
	if sess, ok := r.byMXID[rec.MXID]; ok {
		r.byTWID[twid] = sess
		return sess, nil
	}
	return r.cacheLocked(rec), nil
}

// AllWithCredentials returns every persisted session with stored
// credentials, always preferring already-cached instances so concurrent
// startup scans cannot produce duplicate sessions for one account.
func (r *Registry) AllWithCredentials(ctx context.Context) ([]*Session, error) {
	recs, err := r.store.AllWithCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions with credentials: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		if sess, ok := r.byMXID[rec.MXID]; ok {
			sessions = append(sessions, sess)
		} else {
			sessions = append(sessions, r.cacheLocked(rec))
		}
	}
	return sessions, nil
}

// ConnectAll connects every session with stored credentials, best-effort in
// parallel: failures are logged per account and never block the others.
func (r *Registry) ConnectAll(ctx context.Context) error {
	sessions, err := r.AllWithCredentials(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.TryConnect(ctx)
		}(sess)
	}
	wg.Wait()
	return nil
}

// StopAll stops every cached session and drops all registry entries.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byMXID))
	for _, sess := range r.byMXID {
		sessions = append(sessions, sess)
	}
	r.byMXID = make(map[id.UserID]*Session)
	r.byTWID = make(map[int64]*Session)
	r.mu.Unlock()
	for _, sess := range sessions {
		if err := sess.Stop(ctx); err != nil {
			sess.log.Warn().Err(err).Msg("Failed to stop session during shutdown")
		}
	}
}

// cacheLocked wraps a record in a Session and indexes it. Caller must hold mu.
func (r *Registry) cacheLocked(rec *store.User) *Session {
	sess := r.newSession(rec)
	r.byMXID[rec.MXID] = sess
	if rec.TWID != 0 {
		r.byTWID[rec.TWID] = sess
	}
	return sess
}

func (r *Registry) newSession(rec *store.User) *Session {
	whitelisted, admin, level := r.config.GetPermissions(rec.MXID)
	return &Session{
		User:     rec,
		registry: r,
		log:      r.log.With().Str("user_mxid", string(rec.MXID)).Logger(),

		Whitelisted:     whitelisted,
		Admin:           admin,
		PermissionLevel: level,
	}
}

// bindTWID adds the twid index entry for a session that just bound its
// Twitter user ID.
func (r *Registry) bindTWID(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTWID[sess.TWID] = sess
}

// unbindTWID removes the session's twid index entry and clears the field in
// one critical section, tolerating the entry being gone already.
func (r *Registry) unbindTWID(sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byTWID[sess.TWID]; ok && cur == sess {
		delete(r.byTWID, sess.TWID)
	}
	sess.TWID = 0
}
