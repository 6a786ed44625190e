// Copyright 2024-2026 Aiku AI

// Package twitdm talks to the Twitter direct message API for a single
// authenticated account. It exposes the connection handle used by the
// connector package: a [Client] that can probe the account's identity,
// fetch account metadata and produce the remote event stream.
package twitdm

// CredentialPair holds the two cookies that authenticate a Twitter session:
// the long-lived auth token and the CSRF token that must accompany it.
type CredentialPair struct {
	AuthToken string
	CSRFToken string
}

// IsEmpty reports whether no auth token is stored.
func (cp CredentialPair) IsEmpty() bool {
	return cp.AuthToken == ""
}

// AccountSettings is the subset of the account settings endpoint the bridge
// cares about.
type AccountSettings struct {
	ScreenName string `json:"screen_name"`
}

// ConversationType distinguishes 1:1 DM threads from group threads.
type ConversationType string

const (
	ConversationTypeOneToOne ConversationType = "ONE_TO_ONE"
	ConversationTypeGroupDM  ConversationType = "GROUP_DM"
)

// Conversation is a DM thread snapshot as delivered by the polling API.
type Conversation struct {
	ConversationID string           `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	Name           string           `json:"name"`
	AvatarURL      string           `json:"avatar_image_https"`
	ReadOnly       bool             `json:"read_only"`
	Trusted        bool             `json:"trusted"`
	Muted          bool             `json:"muted"`
}

// User is a Twitter user profile snapshot.
type User struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url_https"`
}

// MessageData is the payload of a single DM.
type MessageData struct {
	ID       int64  `json:"id,string"`
	Time     int64  `json:"time,string"`
	SenderID int64  `json:"sender_id,string"`
	Text     string `json:"text"`
}

// MessageEntry is a message event from the DM stream. RequestID identifies
// the originating send request so retried deliveries can be deduplicated
// downstream.
type MessageEntry struct {
	ID             int64       `json:"id,string"`
	ConversationID string      `json:"conversation_id"`
	RequestID      string      `json:"request_id"`
	MessageData    MessageData `json:"message_data"`

	// Conversation is resolved from the poll response's conversation map,
	// not part of the entry payload itself.
	Conversation *Conversation `json:"-"`
}

// ReactionCreateEntry is a reaction being added to a DM.
type ReactionCreateEntry struct {
	ID             int64  `json:"id,string"`
	Time           int64  `json:"time,string"`
	ConversationID string `json:"conversation_id"`
	MessageID      int64  `json:"message_id,string"`
	SenderID       int64  `json:"sender_id,string"`
	ReactionKey    string `json:"reaction_key"`
	EmojiReaction  string `json:"emoji_reaction"`
}

// ReactionDeleteEntry is a reaction being removed from a DM.
type ReactionDeleteEntry ReactionCreateEntry

// Event is the closed set of event types a [Client] can produce. Exactly
// five types implement it: *Conversation, *User, *MessageEntry,
// *ReactionCreateEntry and *ReactionDeleteEntry.
type Event interface {
	isEvent()
}

func (*Conversation) isEvent()        {}
func (*User) isEvent()                {}
func (*MessageEntry) isEvent()        {}
func (*ReactionCreateEntry) isEvent() {}
func (*ReactionDeleteEntry) isEvent() {}
