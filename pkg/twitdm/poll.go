// Copyright 2024-2026 Aiku AI

package twitdm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the base URL of the Twitter v1.1 API.
const DefaultBaseURL = "https://twitter.com/i/api/1.1"

const defaultPollInterval = 10 * time.Second

// ErrInvalidCredentials is returned when the API rejects the credential pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PollClient is the production Client implementation. It authenticates with
// the auth_token/ct0 cookie pair and produces events by long-polling the DM
// user updates endpoint with a resumable cursor.
type PollClient struct {
	log          zerolog.Logger
	http         *http.Client
	baseURL      string
	pollInterval time.Duration

	// clientUUID identifies this poller instance to the DM endpoints, like
	// an official client's per-device UUID.
	clientUUID string

	mu     sync.Mutex
	creds  CredentialPair
	cursor string

	events    chan Event
	stopChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

var _ Client = (*PollClient)(nil)

// NewPollClient creates a poll client. Empty baseURL and non-positive
// pollInterval fall back to the defaults.
func NewPollClient(log zerolog.Logger, baseURL string, pollInterval time.Duration) *PollClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &PollClient{
		log:          log,
		http:         &http.Client{Timeout: 40 * time.Second},
		baseURL:      baseURL,
		pollInterval: pollInterval,
		clientUUID:   uuid.NewString(),
		events:       make(chan Event, 64),
		stopChan:     make(chan struct{}),
	}
}

func (pc *PollClient) SetCredentials(pair CredentialPair) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.creds = pair
}

func (pc *PollClient) Credentials() CredentialPair {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.creds
}

func (pc *PollClient) SetPollCursor(cursor string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cursor = cursor
}

func (pc *PollClient) PollCursor() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.cursor
}

func (pc *PollClient) apiGet(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := pc.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to prepare request: %w", err)
	}
	creds := pc.Credentials()
	req.Header.Set("Cookie", fmt.Sprintf("auth_token=%s; ct0=%s", creds.AuthToken, creds.CSRFToken))
	req.Header.Set("X-CSRF-Token", creds.CSRFToken)
	req.Header.Set("Accept", "application/json")

	resp, err := pc.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d)", ErrInvalidCredentials, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("unexpected HTTP %d from %s", resp.StatusCode, path)
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (pc *PollClient) IdentityProbe(ctx context.Context) (int64, error) {
	var resp struct {
		ID int64 `json:"id"`
	}
	if err := pc.apiGet(ctx, "/account/verify_credentials.json", nil, &resp); err != nil {
		return 0, err
	}
	if resp.ID == 0 {
		return 0, fmt.Errorf("verify_credentials returned no user ID")
	}
	return resp.ID, nil
}

func (pc *PollClient) GetAccountSettings(ctx context.Context) (*AccountSettings, error) {
	var settings AccountSettings
	if err := pc.apiGet(ctx, "/account/settings.json", nil, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (pc *PollClient) LookupByHandle(ctx context.Context, handle string) (*User, error) {
	query := url.Values{"screen_name": {handle}}
	var users []User
	if err := pc.apiGet(ctx, "/users/lookup.json", query, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("no user found for handle %q", handle)
	}
	return &users[0], nil
}

func (pc *PollClient) Events() <-chan Event {
	return pc.events
}

func (pc *PollClient) Start() {
	pc.startOnce.Do(func() {
		go pc.pollLoop()
	})
}

func (pc *PollClient) Stop() {
	pc.stopOnce.Do(func() {
		close(pc.stopChan)
	})
}

// pollLoop polls for DM updates until Stop is called, then closes the event
// channel. Individual poll failures are logged and retried on the next tick;
// the loop itself never gives up.
func (pc *PollClient) pollLoop() {
	ctx := pc.log.WithContext(context.Background())
	defer close(pc.events)
	ticker := time.NewTicker(pc.pollInterval)
	defer ticker.Stop()
	for {
		if err := pc.pollOnce(ctx); err != nil {
			pc.log.Warn().Err(err).Msg("DM poll failed")
		}
		select {
		case <-pc.stopChan:
			return
		case <-ticker.C:
		}
	}
}

// pollEntry is the tagged union of DM stream entries. Exactly one field is
// set per entry.
type pollEntry struct {
	Message        *MessageEntry        `json:"message"`
	ReactionCreate *ReactionCreateEntry `json:"reaction_create"`
	ReactionDelete *ReactionDeleteEntry `json:"reaction_delete"`
}

type userUpdatesResponse struct {
	UserEvents *struct {
		Cursor        string                   `json:"cursor"`
		Users         map[string]*User         `json:"users"`
		Conversations map[string]*Conversation `json:"conversations"`
		Entries       []pollEntry              `json:"entries"`
	} `json:"user_events"`
}

func (pc *PollClient) pollOnce(ctx context.Context) error {
	query := url.Values{"client_uuid": {pc.clientUUID}}
	if cursor := pc.PollCursor(); cursor != "" {
		query.Set("cursor", cursor)
	}
	var resp userUpdatesResponse
	if err := pc.apiGet(ctx, "/dm/user_updates.json", query, &resp); err != nil {
		return err
	}
	ue := resp.UserEvents
	if ue == nil {
		return nil
	}
	for _, user := range ue.Users {
		pc.emit(user)
	}
	for _, conv := range ue.Conversations {
		pc.emit(conv)
	}
	for _, entry := range ue.Entries {
		switch {
		case entry.Message != nil:
			entry.Message.Conversation = ue.Conversations[entry.Message.ConversationID]
			pc.emit(entry.Message)
		case entry.ReactionCreate != nil:
			pc.emit(entry.ReactionCreate)
		case entry.ReactionDelete != nil:
			pc.emit(entry.ReactionDelete)
		}
	}
	if ue.Cursor != "" {
		pc.SetPollCursor(ue.Cursor)
	}
	return nil
}

func (pc *PollClient) emit(evt Event) {
	select {
	case pc.events <- evt:
	case <-pc.stopChan:
	}
}
