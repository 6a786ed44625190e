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

// Session owns one linked account: its connection lifecycle, its credential
// pair and its resumable stream position. Sessions are created and cached by
// the Registry and live until process shutdown; Logout resets a session to
// an unauthenticated state instead of destroying it.
type Session struct {
	*store.User

	registry *Registry
	log      zerolog.Logger

	// Permission tier, derived once from config at construction.
	Whitelisted     bool
	Admin           bool
	PermissionLevel string

	// lifecycleLock serializes Connect, Stop and Logout. Handle replacement
	// is not atomic, so lifecycle transitions must never run concurrently.
	lifecycleLock  sync.Mutex
	noticeRoomLock sync.Mutex

	client   twitdm.Client
	username string
}

// Username returns the account's screen name as of the last connect.
func (s *Session) Username() string {
	return s.username
}

// Connect builds a fresh connection handle from the stored credentials (or
// the override, if given) and the stored poll cursor, probes the account's
// identity before committing any state, binds the twid on first login,
// persists the session and starts the event stream.
//
// A probe failure is returned as *AuthError and leaves the session exactly
// as it was.
func (s *Session) Connect(ctx context.Context, override *twitdm.CredentialPair) error {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()

	creds := twitdm.CredentialPair{AuthToken: s.AuthToken, CSRFToken: s.CSRFToken}
	if override != nil {
		creds = *override
	}
	client := s.registry.newClient(s.log.With().Str("component", "twitter_client").Logger())
	client.SetCredentials(creds)
	client.SetPollCursor(s.PollCursor)

	// Initial probe to make sure auth works before touching any state.
	if _, err := client.IdentityProbe(ctx); err != nil {
		return &AuthError{Cause: err}
	}

	if s.client != nil {
		// Replacing a live handle without teardown would leak the poller.
		s.client.Stop()
	}
	s.client = client

	settings, err := client.GetAccountSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account settings: %w", err)
	}
	s.username = settings.ScreenName

	if s.TWID == 0 {
		self, err := client.LookupByHandle(ctx, s.username)
		if err != nil {
			return fmt.Errorf("failed to look up own account: %w", err)
		}
		s.TWID = self.ID
		s.registry.bindTWID(s)
	}

	if err = s.update(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	go s.dispatchEvents(client.Events(), s.TWID)
	client.Start()
	s.log.Info().Int64("twid", s.TWID).Str("screen_name", s.username).Msg("Connected to Twitter")
	return nil
}

// TryConnect calls Connect and swallows any failure with a log line. Used
// for best-effort bulk reconnection at startup.
func (s *Session) TryConnect(ctx context.Context) {
	if err := s.Connect(ctx, nil); err != nil {
		s.log.Err(err).Msg("Error while connecting to Twitter")
	}
}

// Stop tears down the connection handle, if any, and persists the
// credentials and poll cursor as they stand. Calling Stop with no live
// handle is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()
	if s.client == nil {
		return nil
	}
	s.client.Stop()
	err := s.update(ctx)
	s.client = nil
	return err
}

// Logout tears down any live handle, releases the account's double-puppet
// binding if one exists, removes the twid index entry and clears the bound
// twid, the credential pair and the poll cursor, then persists the cleared
// record. The session object stays usable: a later Connect with fresh
// credentials logs back in.
func (s *Session) Logout(ctx context.Context) error {
	s.lifecycleLock.Lock()
	defer s.lifecycleLock.Unlock()
	if s.client != nil {
		s.client.Stop()
		s.client = nil
	}
	if s.TWID != 0 {
		s.releasePuppet(ctx)
		s.registry.unbindTWID(s)
	}
	s.AuthToken = ""
	s.CSRFToken = ""
	s.PollCursor = ""
	if err := s.registry.store.Update(ctx, s.User); err != nil {
		return fmt.Errorf("failed to save cleared session: %w", err)
	}
	s.log.Info().Msg("Logged out")
	return nil
}

// releasePuppet hands back the double-puppet binding for this account's own
// Twitter user, if one exists. Failures are logged only: leaving the binding
// orphaned is preferable to aborting logout halfway.
func (s *Session) releasePuppet(ctx context.Context) {
	puppet, err := s.registry.puppets.Get(ctx, s.TWID)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get own puppet during logout")
		return
	}
	if puppet == nil || !puppet.IsRealUser() {
		return
	}
	if err = puppet.ReleaseRealUser(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release double puppet during logout")
	}
}

// IsLoggedIn reports whether a live handle exists and its credentials still
// pass a fresh identity probe. Probe failures of any kind count as not
// logged in.
func (s *Session) IsLoggedIn(ctx context.Context) bool {
	if s.client == nil {
		return false
	}
	_, err := s.client.IdentityProbe(ctx)
	return err == nil
}

// NoticeRoom returns the session's notice room, lazily creating it through
// the registry's notice room creator. The notice room lock guarantees only
// the first caller creates; concurrent callers observe the created room.
func (s *Session) NoticeRoom(ctx context.Context) (id.RoomID, error) {
	s.noticeRoomLock.Lock()
	defer s.noticeRoomLock.Unlock()
	if s.User.NoticeRoom != "" {
		return s.User.NoticeRoom, nil
	}
	if s.registry.notices == nil {
		return "", fmt.Errorf("no notice room creator configured")
	}
	room, err := s.registry.notices.CreateNoticeRoom(ctx, s)
	if err != nil {
		return "", fmt.Errorf("failed to create notice room: %w", err)
	}
	s.User.NoticeRoom = room
	if err = s.registry.store.Update(ctx, s.User); err != nil {
		return "", fmt.Errorf("failed to save notice room: %w", err)
	}
	return room, nil
}

// update persists the session record, first syncing credentials and the
// poll cursor from the live connection handle if there is one.
func (s *Session) update(ctx context.Context) error {
	if s.client != nil {
		pair := s.client.Credentials()
		s.AuthToken = pair.AuthToken
		s.CSRFToken = pair.CSRFToken
		s.PollCursor = s.client.PollCursor()
	}
	return s.registry.store.Update(ctx, s.User)
}
