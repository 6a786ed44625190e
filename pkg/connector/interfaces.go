// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-twitdm/pkg/store"
	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

// SessionStore is the persistence delegate for session records. Lookups
// signal absence by returning (nil, nil); absence is an expected outcome,
// not an error.
type SessionStore interface {
	GetByMXID(ctx context.Context, mxid id.UserID) (*store.User, error)
	GetByTWID(ctx context.Context, twid int64) (*store.User, error)
	AllWithCredentials(ctx context.Context) ([]*store.User, error)
	Insert(ctx context.Context, user *store.User) error
	Update(ctx context.Context, user *store.User) error
}

var _ SessionStore = (*store.UserQuery)(nil)

// Portal is the local representation of one remote conversation.
type Portal interface {
	// HasRoom reports whether a Matrix room has been created for the
	// conversation yet.
	HasRoom() bool
	// CreateRoom materializes the Matrix room from a conversation snapshot.
	CreateRoom(ctx context.Context, owner *Session, conv *twitdm.Conversation) error
	// UpdateInfo syncs conversation metadata into the room.
	UpdateInfo(ctx context.Context, conv *twitdm.Conversation) error
	// HandleRemoteMessage bridges one message. requestID is forwarded on
	// every delivery so the portal can deduplicate retried sends.
	HandleRemoteMessage(ctx context.Context, owner *Session, msg *twitdm.MessageData, requestID string) error
}

// PortalResolver resolves or creates portals. Portals are keyed by the
// remote conversation ID, the owning account's twid and the conversation
// type.
type PortalResolver interface {
	GetOrCreate(ctx context.Context, conversationID string, ownerTWID int64, convType twitdm.ConversationType) (Portal, error)
}

// Puppet is the local representation of one remote Twitter user.
type Puppet interface {
	UpdateInfo(ctx context.Context, user *twitdm.User) error
	// IsRealUser reports whether the puppet is bound to a real Matrix user
	// (double puppeting).
	IsRealUser() bool
	// ReleaseRealUser drops the double-puppet binding.
	ReleaseRealUser(ctx context.Context) error
}

// PuppetResolver resolves or creates puppets by Twitter user ID. Get returns
// (nil, nil) when no puppet exists.
type PuppetResolver interface {
	GetOrCreate(ctx context.Context, twid int64) (Puppet, error)
	Get(ctx context.Context, twid int64) (Puppet, error)
}

// NoticeRoomCreator creates the side-channel room used for status notices to
// one account's owner.
type NoticeRoomCreator interface {
	CreateNoticeRoom(ctx context.Context, sess *Session) (id.RoomID, error)
}

// ClientFactory builds a fresh connection handle for a session. Credentials
// and the poll cursor are set on the handle by the caller.
type ClientFactory func(log zerolog.Logger) twitdm.Client
