// Package mwah pairs two people in a shared room and passes hearts,
// do-not-disturb status and presence pings between them over a public
// real-time relay.
//
// Example:
//
//	client := mwah.NewClient()
//	conn := client.NewRoomConnection(nil)
//
//	queue := mwah.NewHeartQueue(func() { fmt.Println("♥") }, nil)
//	conn.OnHeartReceived(func() { queue.Enqueue() })
//	conn.OnStatusReceived(func(dnd bool) { fmt.Println("partner dnd:", dnd) })
//
//	_ = conn.Connect(client.Channel("K7PQ2MZX", senderID))
//	conn.SendHeart()
//
//	// later
//	conn.Disconnect()
//	queue.CancelAll()
package mwah

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultEndpoint = "https://mwah-76199-default-rtdb.firebaseio.com"
	DefaultTimeout  = 30 * time.Second

	// A partner whose lastSeen is older than this is considered away.
	presenceWindow = 90 * time.Second
)

// Client holds relay settings shared by room connections and the REST status
// store.
type Client struct {
	endpoint       string
	statusEndpoint string
	httpClient     *http.Client
	streamClient   *http.Client
	logger         *zerolog.Logger
	now            func() time.Time

	// Status reads and writes the per-room status tree.
	Status *StatusClient
}

type ClientOption func(*Client)

// WithEndpoint sets the relay endpoint. http(s) endpoints use the event-stream
// relay; ws(s) endpoints use the WebSocket relay.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = strings.TrimRight(endpoint, "/") }
}

// WithStatusEndpoint sets the REST status store endpoint. It defaults to the
// relay endpoint.
func WithStatusEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.statusEndpoint = strings.TrimRight(endpoint, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new client.
func NewClient(opts ...ClientOption) *Client {
	nop := zerolog.Nop()
	c := &Client{
		endpoint: DefaultEndpoint,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: &nop,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.statusEndpoint == "" {
		c.statusEndpoint = c.endpoint
	}
	// Streams are long-lived, so they share the transport but not the timeout.
	c.streamClient = &http.Client{Transport: c.httpClient.Transport}
	c.Status = &StatusClient{c: c}
	return c
}

// Endpoint returns the relay endpoint.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Channel returns the channel config for a room on this client's relay.
func (c *Client) Channel(roomCode, senderID string) ChannelConfig {
	return ChannelConfig{RoomCode: roomCode, SenderID: senderID, Endpoint: c.endpoint}
}

// NewRoomConnection creates a room connection that uses this client's HTTP
// transport and logger unless opts overrides them.
func (c *Client) NewRoomConnection(opts *RoomOptions) *RoomConnection {
	var o RoomOptions
	if opts != nil {
		o = *opts
	}
	if o.HTTPClient == nil {
		o.HTTPClient = c.streamClient
	}
	if o.Logger == nil {
		o.Logger = c.logger
	}
	return NewRoomConnection(&o)
}

// Publish sends ev to the room and waits for the relay to accept it.
func (c *Client) Publish(ctx context.Context, config ChannelConfig, ev OutboundEvent) error {
	if err := config.Validate(); err != nil {
		return err
	}
	payload, err := EncodeMessage(config.SenderID, uint64(c.now().UnixMilli()), ev)
	if err != nil {
		return err
	}
	return NewTransport(config, c.httpClient, c.logger).Publish(ctx, payload)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	u := c.statusEndpoint + path

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return data, nil
}

// ============================================================================
// Status store
// ============================================================================

// PeerStatus is one sender's entry in a room's status tree.
type PeerStatus struct {
	DND *bool `json:"dnd,omitempty"`
	// LastSeen is a server timestamp in milliseconds since the epoch.
	LastSeen *float64 `json:"lastSeen,omitempty"`
}

// StatusClient persists do-not-disturb and last-seen state outside the
// channel, so a partner that connects later can still read it.
type StatusClient struct{ c *Client }

func statusPath(roomCode string) string {
	return "/rooms/" + url.PathEscape(roomCode) + "/status"
}

// SaveDND records the local do-not-disturb flag.
func (s *StatusClient) SaveDND(ctx context.Context, roomCode, senderID string, dnd bool) error {
	_, err := s.c.doRequest(ctx, http.MethodPatch,
		statusPath(roomCode)+"/"+url.PathEscape(senderID)+".json",
		map[string]bool{"dnd": dnd})
	return err
}

// SavePresence stamps the local lastSeen with the relay's server time.
func (s *StatusClient) SavePresence(ctx context.Context, roomCode, senderID string) error {
	_, err := s.c.doRequest(ctx, http.MethodPatch,
		statusPath(roomCode)+"/"+url.PathEscape(senderID)+".json",
		map[string]any{"lastSeen": map[string]string{".sv": "timestamp"}})
	return err
}

// Fetch returns every sender's status in the room, keyed by sender ID.
func (s *StatusClient) Fetch(ctx context.Context, roomCode string) (map[string]PeerStatus, error) {
	data, err := s.c.doRequest(ctx, http.MethodGet, statusPath(roomCode)+".json", nil)
	if err != nil {
		return nil, err
	}
	statuses := map[string]PeerStatus{}
	if err := json.Unmarshal(data, &statuses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if statuses == nil {
		statuses = map[string]PeerStatus{}
	}
	return statuses, nil
}

// PartnerDND returns the first partner DND flag found in the room. ok is false
// if no partner has stored one.
func (s *StatusClient) PartnerDND(ctx context.Context, roomCode, senderID string) (dnd bool, ok bool, err error) {
	statuses, err := s.Fetch(ctx, roomCode)
	if err != nil {
		return false, false, err
	}
	for _, id := range partnerIDs(statuses, senderID) {
		if st := statuses[id]; st.DND != nil {
			return *st.DND, true, nil
		}
	}
	return false, false, nil
}

// PartnerPresence reports whether a partner was seen within the last 90s.
func (s *StatusClient) PartnerPresence(ctx context.Context, roomCode, senderID string) (bool, error) {
	statuses, err := s.Fetch(ctx, roomCode)
	if err != nil {
		return false, err
	}
	nowMillis := float64(s.c.now().UnixMilli())
	for _, id := range partnerIDs(statuses, senderID) {
		if st := statuses[id]; st.LastSeen != nil {
			return nowMillis-*st.LastSeen < float64(presenceWindow.Milliseconds()), nil
		}
	}
	return false, nil
}

func partnerIDs(statuses map[string]PeerStatus, senderID string) []string {
	ids := make([]string, 0, len(statuses))
	for id := range statuses {
		if id != senderID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
