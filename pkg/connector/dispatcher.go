// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"

	"github.com/aiku/mautrix-twitdm/pkg/twitdm"
)

// dispatchEvents consumes a connection handle's event stream until the
// channel closes. Events are processed one at a time, so delivery order
// within the stream is preserved and a conversation can never see two
// concurrent room creation attempts.
//
// ownerTWID is the twid bound when the stream was started. The loop runs
// concurrently with Logout clearing the session's twid field, so it must
// route by its own snapshot rather than reading the field.
func (s *Session) dispatchEvents(events <-chan twitdm.Event, ownerTWID int64) {
	ctx := s.log.WithContext(context.Background())
	for evt := range events {
		s.dispatchEvent(ctx, ownerTWID, evt)
	}
	s.log.Debug().Msg("Event stream closed")
}

func (s *Session) dispatchEvent(ctx context.Context, ownerTWID int64, evt twitdm.Event) {
	switch evt := evt.(type) {
	case *twitdm.Conversation:
		s.handleConversationUpdate(ctx, ownerTWID, evt)
	case *twitdm.User:
		s.handleUserUpdate(ctx, evt)
	case *twitdm.MessageEntry:
		s.handleMessage(ctx, ownerTWID, evt)
	case *twitdm.ReactionCreateEntry, *twitdm.ReactionDeleteEntry:
		s.handleReaction(ctx, evt)
	default:
		s.log.Warn().Type("event_type", evt).Msg("Unhandled event type")
	}
}

func (s *Session) handleConversationUpdate(ctx context.Context, ownerTWID int64, evt *twitdm.Conversation) {
	portal, err := s.registry.portals.GetOrCreate(ctx, evt.ConversationID, ownerTWID, evt.Type)
	if err != nil {
		s.log.Err(err).Str("conversation_id", evt.ConversationID).
			Msg("Failed to get portal for conversation update")
		return
	}
	if err = portal.UpdateInfo(ctx, evt); err != nil {
		s.log.Err(err).Str("conversation_id", evt.ConversationID).
			Msg("Failed to update portal info")
	}
}

func (s *Session) handleUserUpdate(ctx context.Context, evt *twitdm.User) {
	puppet, err := s.registry.puppets.GetOrCreate(ctx, evt.ID)
	if err != nil {
		s.log.Err(err).Int64("puppet_twid", evt.ID).Msg("Failed to get puppet for user update")
		return
	}
	if err = puppet.UpdateInfo(ctx, evt); err != nil {
		s.log.Err(err).Int64("puppet_twid", evt.ID).Msg("Failed to update puppet info")
	}
}

func (s *Session) handleMessage(ctx context.Context, ownerTWID int64, evt *twitdm.MessageEntry) {
	var convType twitdm.ConversationType
	if evt.Conversation != nil {
		convType = evt.Conversation.Type
	}
	portal, err := s.registry.portals.GetOrCreate(ctx, evt.ConversationID, ownerTWID, convType)
	if err != nil {
		s.log.Err(err).Str("conversation_id", evt.ConversationID).
			Msg("Failed to get portal for message")
		return
	}
	if !portal.HasRoom() {
		if err = portal.CreateRoom(ctx, s, evt.Conversation); err != nil {
			s.log.Err(err).Str("conversation_id", evt.ConversationID).
				Msg("Failed to create room for message")
			return
		}
	}
	if err = portal.HandleRemoteMessage(ctx, s, &evt.MessageData, evt.RequestID); err != nil {
		s.log.Err(err).Str("conversation_id", evt.ConversationID).
			Str("request_id", evt.RequestID).Msg("Failed to handle message")
	}
}

// handleReaction consumes reaction entries without acting on them. Bridging
// reactions to Matrix is not implemented yet; the entries are accepted so
// the stream keeps flowing.
func (s *Session) handleReaction(_ context.Context, evt twitdm.Event) {
	s.log.Trace().Type("event_type", evt).Msg("Ignoring reaction event")
}
