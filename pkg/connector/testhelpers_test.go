// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-twitdm/pkg/store"
	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

var errUnknownToken = errors.New("unknown auth token")

// remoteProfile is the fake Twitter side of one credential pair.
type remoteProfile struct {
	twid        int64
	screenName  string
	probeErr    error
	settingsErr error
	lookupErr   error
}

// testEnv bundles all fake collaborators for registry/session tests.
type testEnv struct {
	mu       sync.Mutex
	store    *memStore
	portals  *fakePortalResolver
	puppets  *fakePuppetResolver
	notices  *fakeNoticeCreator
	profiles map[string]*remoteProfile
	clients  []*fakeClient
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:    newMemStore(),
		portals:  newFakePortalResolver(),
		puppets:  newFakePuppetResolver(),
		notices:  &fakeNoticeCreator{room: "!notices:example.com"},
		profiles: make(map[string]*remoteProfile),
	}
	env.addProfile("valid-token", 555, "linked")
	return env
}

func (env *testEnv) addProfile(token string, twid int64, screenName string) *remoteProfile {
	env.mu.Lock()
	defer env.mu.Unlock()
	profile := &remoteProfile{twid: twid, screenName: screenName}
	env.profiles[token] = profile
	return profile
}

func (env *testEnv) profile(token string) *remoteProfile {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.profiles[token]
}

func (env *testEnv) profileByHandle(handle string) *remoteProfile {
	env.mu.Lock()
	defer env.mu.Unlock()
	for _, profile := range env.profiles {
		if profile.screenName == handle {
			return profile
		}
	}
	return nil
}

// newClient is the ClientFactory handed to the registry.
func (env *testEnv) newClient(_ zerolog.Logger) twitdm.Client {
	client := &fakeClient{
		env:    env,
		events: make(chan twitdm.Event, 16),
	}
	env.mu.Lock()
	env.clients = append(env.clients, client)
	env.mu.Unlock()
	return client
}

func (env *testEnv) lastClient() *fakeClient {
	env.mu.Lock()
	defer env.mu.Unlock()
	if len(env.clients) == 0 {
		return nil
	}
	return env.clients[len(env.clients)-1]
}

func newTestRegistry(*testing.T) (*Registry, *testEnv) {
	env := newTestEnv()
	reg := NewRegistry(RegistryParams{
		Log: zerolog.Nop(),
		Config: &Config{Permissions: map[string]string{
			"*":                    PermissionUser,
			"@admin:example.com":   PermissionAdmin,
			"@blocked:example.com": PermissionRelay,
		}},
		Store:     env.store,
		Portals:   env.portals,
		Puppets:   env.puppets,
		Notices:   env.notices,
		NewClient: env.newClient,
	})
	return reg, env
}

// mustConnect creates (or loads) the session for mxid and connects it with
// the given token's credential pair.
func mustConnect(t *testing.T, reg *Registry, mxid id.UserID, token string) (*Session, *fakeClient) {
	t.Helper()
	ctx := context.Background()
	sess, err := reg.GetByMXID(ctx, mxid, true)
	if err != nil {
		t.Fatalf("GetByMXID(%s): %v", mxid, err)
	}
	err = sess.Connect(ctx, &twitdm.CredentialPair{AuthToken: token, CSRFToken: "csrf"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	client, ok := sess.client.(*fakeClient)
	if !ok {
		t.Fatalf("session client is %T, not *fakeClient", sess.client)
	}
	return sess, client
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// fakeClient is a scriptable twitdm.Client backed by the env's profiles.
type fakeClient struct {
	env *testEnv

	mu     sync.Mutex
	creds  twitdm.CredentialPair
	cursor string

	events     chan twitdm.Event
	closeOnce  sync.Once
	startCalls int
	stopCalls  int
}

var _ twitdm.Client = (*fakeClient)(nil)

func (c *fakeClient) IdentityProbe(context.Context) (int64, error) {
	profile := c.env.profile(c.Credentials().AuthToken)
	if profile == nil {
		return 0, errUnknownToken
	}
	if profile.probeErr != nil {
		return 0, profile.probeErr
	}
	return profile.twid, nil
}

func (c *fakeClient) GetAccountSettings(context.Context) (*twitdm.AccountSettings, error) {
	profile := c.env.profile(c.Credentials().AuthToken)
	if profile == nil {
		return nil, errUnknownToken
	}
	if profile.settingsErr != nil {
		return nil, profile.settingsErr
	}
	return &twitdm.AccountSettings{ScreenName: profile.screenName}, nil
}

func (c *fakeClient) LookupByHandle(_ context.Context, handle string) (*twitdm.User, error) {
	if own := c.env.profile(c.Credentials().AuthToken); own != nil && own.lookupErr != nil {
		return nil, own.lookupErr
	}
	profile := c.env.profileByHandle(handle)
	if profile == nil {
		return nil, errors.New("no user found")
	}
	return &twitdm.User{ID: profile.twid, ScreenName: profile.screenName}, nil
}

func (c *fakeClient) SetCredentials(pair twitdm.CredentialPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = pair
}

func (c *fakeClient) Credentials() twitdm.CredentialPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *fakeClient) SetPollCursor(cursor string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = cursor
}

func (c *fakeClient) PollCursor() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *fakeClient) Events() <-chan twitdm.Event {
	return c.events
}

func (c *fakeClient) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startCalls++
}

func (c *fakeClient) Stop() {
	c.mu.Lock()
	c.stopCalls++
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

func (c *fakeClient) StartCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCalls
}

func (c *fakeClient) StopCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopCalls
}

// memStore is an in-memory SessionStore. Like a real database, it hands out
// copies of its records so cache-preference behavior is observable.
type memStore struct {
	mu          sync.Mutex
	records     map[id.UserID]*store.User
	inserts     int
	updates     int
	twidQueries int
}

func newMemStore() *memStore {
	return &memStore{records: make(map[id.UserID]*store.User)}
}

var _ SessionStore = (*memStore)(nil)

func (m *memStore) seed(rec *store.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.MXID] = &cp
}

func (m *memStore) record(mxid id.UserID) *store.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[mxid]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (m *memStore) counts() (inserts, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts, m.updates
}

func (m *memStore) twidQueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.twidQueries
}

func (m *memStore) GetByMXID(_ context.Context, mxid id.UserID) (*store.User, error) {
	return m.record(mxid), nil
}

func (m *memStore) GetByTWID(_ context.Context, twid int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.twidQueries++
	for _, rec := range m.records {
		if rec.TWID == twid {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) AllWithCredentials(context.Context) ([]*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []*store.User
	for _, rec := range m.records {
		if rec.AuthToken != "" {
			cp := *rec
			users = append(users, &cp)
		}
	}
	return users, nil
}

func (m *memStore) Insert(_ context.Context, user *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.records[user.MXID] = &cp
	m.inserts++
	return nil
}

func (m *memStore) Update(_ context.Context, user *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *user
	m.records[user.MXID] = &cp
	m.updates++
	return nil
}

// portalKey mirrors the portal resolver's lookup key.
type portalKey struct {
	conversationID string
	ownerTWID      int64
	convType       twitdm.ConversationType
}

type forwardedMessage struct {
	senderID  int64
	text      string
	requestID string
}

type fakePortal struct {
	mu          sync.Mutex
	hasRoom     bool
	createErr   error
	createCalls int
	infoUpdates []*twitdm.Conversation
	messages    []forwardedMessage
}

var _ Portal = (*fakePortal)(nil)

func (p *fakePortal) HasRoom() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasRoom
}

func (p *fakePortal) CreateRoom(_ context.Context, _ *Session, _ *twitdm.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	if p.createErr != nil {
		return p.createErr
	}
	p.hasRoom = true
	return nil
}

func (p *fakePortal) UpdateInfo(_ context.Context, conv *twitdm.Conversation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infoUpdates = append(p.infoUpdates, conv)
	return nil
}

func (p *fakePortal) HandleRemoteMessage(_ context.Context, _ *Session, msg *twitdm.MessageData, requestID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, forwardedMessage{
		senderID:  msg.SenderID,
		text:      msg.Text,
		requestID: requestID,
	})
	return nil
}

func (p *fakePortal) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

func (p *fakePortal) Messages() []forwardedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]forwardedMessage, len(p.messages))
	copy(cp, p.messages)
	return cp
}

type fakePortalResolver struct {
	mu      sync.Mutex
	err     error
	portals map[portalKey]*fakePortal
	calls   []portalKey
}

var _ PortalResolver = (*fakePortalResolver)(nil)

func newFakePortalResolver() *fakePortalResolver {
	return &fakePortalResolver{portals: make(map[portalKey]*fakePortal)}
}

func (f *fakePortalResolver) GetOrCreate(_ context.Context, conversationID string, ownerTWID int64, convType twitdm.ConversationType) (Portal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	key := portalKey{conversationID, ownerTWID, convType}
	f.calls = append(f.calls, key)
	portal, ok := f.portals[key]
	if !ok {
		portal = &fakePortal{}
		f.portals[key] = portal
	}
	return portal, nil
}

func (f *fakePortalResolver) Calls() []portalKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]portalKey, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakePortalResolver) portal(key portalKey) *fakePortal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.portals[key]
}

type fakePuppet struct {
	mu          sync.Mutex
	realUser    bool
	releaseErr  error
	released    int
	infoUpdates []*twitdm.User
}

var _ Puppet = (*fakePuppet)(nil)

func (p *fakePuppet) UpdateInfo(_ context.Context, user *twitdm.User) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.infoUpdates = append(p.infoUpdates, user)
	return nil
}

func (p *fakePuppet) IsRealUser() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realUser
}

func (p *fakePuppet) ReleaseRealUser(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
	return p.releaseErr
}

func (p *fakePuppet) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

type fakePuppetResolver struct {
	mu      sync.Mutex
	getErr  error
	puppets map[int64]*fakePuppet
}

var _ PuppetResolver = (*fakePuppetResolver)(nil)

func newFakePuppetResolver() *fakePuppetResolver {
	return &fakePuppetResolver{puppets: make(map[int64]*fakePuppet)}
}

func (f *fakePuppetResolver) seed(twid int64, puppet *fakePuppet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puppets[twid] = puppet
}

func (f *fakePuppetResolver) GetOrCreate(_ context.Context, twid int64) (Puppet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	puppet, ok := f.puppets[twid]
	if !ok {
		puppet = &fakePuppet{}
		f.puppets[twid] = puppet
	}
	return puppet, nil
}

func (f *fakePuppetResolver) Get(_ context.Context, twid int64) (Puppet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	puppet, ok := f.puppets[twid]
	if !ok {
		return nil, nil
	}
	return puppet, nil
}

func (f *fakePuppetResolver) puppet(twid int64) *fakePuppet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puppets[twid]
}

type fakeNoticeCreator struct {
	mu    sync.Mutex
	room  id.RoomID
	err   error
	calls int
}

var _ NoticeRoomCreator = (*fakeNoticeCreator)(nil)

func (f *fakeNoticeCreator) CreateNoticeRoom(context.Context, *Session) (id.RoomID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.room, nil
}

func (f *fakeNoticeCreator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
