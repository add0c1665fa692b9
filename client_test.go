package mwah

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// newStatusServer serves a fixed status tree and records every request.
func newStatusServer(t *testing.T, tree string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(b)})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			w.Write([]byte(tree))
			return
		}
		w.Write(b)
	}))
	t.Cleanup(server.Close)
	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

// ============================================================================
// Client
// ============================================================================

func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		c := NewClient()
		if c.Endpoint() != DefaultEndpoint {
			t.Errorf("expected default endpoint, got %s", c.Endpoint())
		}
		if c.statusEndpoint != DefaultEndpoint {
			t.Errorf("expected status endpoint to follow relay, got %s", c.statusEndpoint)
		}
		if c.httpClient.Timeout != DefaultTimeout {
			t.Errorf("expected %s timeout, got %s", DefaultTimeout, c.httpClient.Timeout)
		}
		if c.streamClient.Timeout != 0 {
			t.Error("stream client must not time out")
		}
	})

	t.Run("options", func(t *testing.T) {
		c := NewClient(
			WithEndpoint("wss://push.example/"),
			WithStatusEndpoint("https://status.example/"),
			WithTimeout(5*time.Second),
		)
		if c.Endpoint() != "wss://push.example" {
			t.Errorf("unexpected endpoint: %s", c.Endpoint())
		}
		if c.statusEndpoint != "https://status.example" {
			t.Errorf("unexpected status endpoint: %s", c.statusEndpoint)
		}
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("unexpected timeout: %s", c.httpClient.Timeout)
		}
	})

	t.Run("channel", func(t *testing.T) {
		c := NewClient(WithEndpoint("https://relay.example"))
		ch := c.Channel("K7PQ2MZX", "ME")
		if ch.Endpoint != "https://relay.example" || ch.RoomCode != "K7PQ2MZX" || ch.SenderID != "ME" {
			t.Errorf("unexpected channel: %+v", ch)
		}
	})
}

func TestNewTransport(t *testing.T) {
	if _, ok := NewTransport(testChannel("wss://push.example"), nil, nil).(*WebSocketTransport); !ok {
		t.Error("expected WebSocket transport for wss endpoint")
	}
	if _, ok := NewTransport(testChannel("ws://localhost:8080"), nil, nil).(*WebSocketTransport); !ok {
		t.Error("expected WebSocket transport for ws endpoint")
	}
	if _, ok := NewTransport(testChannel("https://relay.example"), nil, nil).(*EventStreamTransport); !ok {
		t.Error("expected event-stream transport for https endpoint")
	}
}

func TestClient_Publish(t *testing.T) {
	server, requests := newStatusServer(t, "null")
	c := NewClient(WithEndpoint(server.URL))
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	if err := c.Publish(context.Background(), c.Channel("K7PQ2MZX", "ME"), SendStatus{DoNotDisturb: true}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	reqs := requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	if reqs[0].Method != http.MethodPut || reqs[0].Path != "/rooms/K7PQ2MZX/channel/ME.json" {
		t.Errorf("unexpected request: %s %s", reqs[0].Method, reqs[0].Path)
	}
	var m map[string]any
	json.Unmarshal([]byte(reqs[0].Body), &m)
	if m["type"] != TypeStatus || m["dnd"] != true || m["seq"] != float64(1700000000000) {
		t.Errorf("unexpected body: %s", reqs[0].Body)
	}

	if err := c.Publish(context.Background(), c.Channel("BAD", "ME"), SendPresence{}); !errors.Is(err, ErrInvalidRoomCode) {
		t.Errorf("expected ErrInvalidRoomCode, got %v", err)
	}
}

func TestClient_NewRoomConnection(t *testing.T) {
	c := NewClient()
	conn := c.NewRoomConnection(nil)
	if conn.opts.HTTPClient != c.streamClient {
		t.Error("expected room connection to use the stream client")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %s", conn.State())
	}
}

// ============================================================================
// StatusClient
// ============================================================================

func TestStatusClient_Save(t *testing.T) {
	server, requests := newStatusServer(t, "null")
	c := NewClient(WithStatusEndpoint(server.URL))
	ctx := context.Background()

	if err := c.Status.SaveDND(ctx, "K7PQ2MZX", "ME", true); err != nil {
		t.Fatalf("SaveDND failed: %v", err)
	}
	if err := c.Status.SavePresence(ctx, "K7PQ2MZX", "ME"); err != nil {
		t.Fatalf("SavePresence failed: %v", err)
	}

	reqs := requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	for _, r := range reqs {
		if r.Method != http.MethodPatch || r.Path != "/rooms/K7PQ2MZX/status/ME.json" {
			t.Errorf("unexpected request: %s %s", r.Method, r.Path)
		}
	}
	if reqs[0].Body != `{"dnd":true}` {
		t.Errorf("unexpected dnd body: %s", reqs[0].Body)
	}
	if reqs[1].Body != `{"lastSeen":{".sv":"timestamp"}}` {
		t.Errorf("unexpected presence body: %s", reqs[1].Body)
	}
}

func TestStatusClient_Fetch(t *testing.T) {
	t.Run("empty room", func(t *testing.T) {
		server, _ := newStatusServer(t, "null")
		c := NewClient(WithStatusEndpoint(server.URL))
		statuses, err := c.Status.Fetch(context.Background(), "K7PQ2MZX")
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if statuses == nil || len(statuses) != 0 {
			t.Errorf("expected empty map, got %v", statuses)
		}
		if _, ok, _ := c.Status.PartnerDND(context.Background(), "K7PQ2MZX", "ME"); ok {
			t.Error("expected no partner dnd in empty room")
		}
	})

	t.Run("partner dnd skips self", func(t *testing.T) {
		server, _ := newStatusServer(t, `{"ME":{"dnd":false},"PARTNER":{"dnd":true,"lastSeen":1}}`)
		c := NewClient(WithStatusEndpoint(server.URL))
		dnd, ok, err := c.Status.PartnerDND(context.Background(), "K7PQ2MZX", "ME")
		if err != nil {
			t.Fatalf("PartnerDND failed: %v", err)
		}
		if !ok || !dnd {
			t.Errorf("expected partner dnd on, got dnd=%v ok=%v", dnd, ok)
		}
	})

	t.Run("partner presence window", func(t *testing.T) {
		now := time.UnixMilli(1700000100000)
		tests := []struct {
			name     string
			lastSeen int64
			want     bool
		}{
			{"recent", now.Add(-30 * time.Second).UnixMilli(), true},
			{"stale", now.Add(-5 * time.Minute).UnixMilli(), false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				tree, _ := json.Marshal(map[string]any{
					"ME":      map[string]any{"lastSeen": now.UnixMilli()},
					"PARTNER": map[string]any{"lastSeen": tt.lastSeen},
				})
				server, _ := newStatusServer(t, string(tree))
				c := NewClient(WithStatusEndpoint(server.URL))
				c.now = func() time.Time { return now }

				online, err := c.Status.PartnerPresence(context.Background(), "K7PQ2MZX", "ME")
				if err != nil {
					t.Fatalf("PartnerPresence failed: %v", err)
				}
				if online != tt.want {
					t.Errorf("expected online=%v, got %v", tt.want, online)
				}
			})
		}
	})

	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Permission denied"}`))
		}))
		defer server.Close()

		c := NewClient(WithStatusEndpoint(server.URL))
		_, err := c.Status.Fetch(context.Background(), "K7PQ2MZX")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", apiErr.StatusCode)
		}
	})
}
