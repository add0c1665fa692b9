package mwah

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// ============================================================================
// Event-Stream Decoder
// ============================================================================

// Event-stream field markers and the only event type that carries messages.
const (
	sseEventPrefix = "event:"
	sseDataPrefix  = "data:"
	sseUpdateEvent = "put"
)

// maxPendingLine bounds the bytes buffered while waiting for a newline.
const maxPendingLine = 64 << 10

// ErrStreamEnded is returned by a transport whose stream closed without error.
var ErrStreamEnded = errors.New("stream ended unexpectedly")

// EventStreamDecoder parses a line-oriented event stream (text/event-stream)
// carrying relay "put" updates of the form {"path": "/<sender>", "data": {...}}.
type EventStreamDecoder struct {
	buf       []byte
	eventType string
	data      []string
	logger    zerolog.Logger
}

// NewEventStreamDecoder creates a decoder. A nil logger discards debug output.
func NewEventStreamDecoder(logger *zerolog.Logger) *EventStreamDecoder {
	d := &EventStreamDecoder{logger: zerolog.Nop()}
	if logger != nil {
		d.logger = logger.With().Str("component", "event-stream-decoder").Logger()
	}
	return d
}

// Decode appends p to the line buffer and returns every event completed by it.
func (d *EventStreamDecoder) Decode(p []byte) []Envelope {
	d.buf = append(d.buf, p...)

	var out []Envelope
	start := 0
	for {
		i := bytes.IndexByte(d.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(d.buf[start:start+i], []byte("\r")))
		start += i + 1
		if env, ok := d.processLine(line); ok {
			out = append(out, env)
		}
	}
	d.buf = append(d.buf[:0], d.buf[start:]...)
	if len(d.buf) > maxPendingLine {
		d.logger.Debug().Int("bytes", len(d.buf)).Msg("dropping oversized line")
		d.Reset()
	}
	return out
}

// Reset drops any partially received line or event.
func (d *EventStreamDecoder) Reset() {
	d.buf = d.buf[:0]
	d.eventType = ""
	d.data = nil
}

func (d *EventStreamDecoder) processLine(line string) (Envelope, bool) {
	switch {
	case line == "":
		// Blank line terminates the current event.
		eventType, data := d.eventType, strings.Join(d.data, "\n")
		d.eventType = ""
		d.data = nil
		if data == "" {
			return Envelope{}, false
		}
		return d.dispatch(eventType, data)
	case strings.HasPrefix(line, sseEventPrefix):
		d.eventType = strings.TrimSpace(line[len(sseEventPrefix):])
	case strings.HasPrefix(line, sseDataPrefix):
		d.data = append(d.data, strings.TrimSpace(line[len(sseDataPrefix):]))
	}
	return Envelope{}, false
}

func (d *EventStreamDecoder) dispatch(eventType, data string) (Envelope, bool) {
	if eventType != sseUpdateEvent || data == "null" {
		return Envelope{}, false
	}

	var update struct {
		Path *string         `json:"path"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(data), &update); err != nil || update.Path == nil {
		d.logger.Debug().Str("data", data).Msg("dropping malformed update")
		return Envelope{}, false
	}

	path := *update.Path
	if path == "/" {
		return Envelope{Event: Snapshot{}}, true
	}

	body := bytes.TrimSpace(update.Data)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return Envelope{}, false
	}
	_, ev, ok := decodeMessage(body)
	if !ok {
		d.logger.Debug().Str("path", path).Msg("dropping malformed message")
		return Envelope{}, false
	}
	return Envelope{Sender: strings.TrimPrefix(path, "/"), Event: ev}, true
}

// ============================================================================
// Event-Stream Transport
// ============================================================================

// EventStreamTransport talks to a REST relay that exposes each room as a JSON
// tree: it streams /rooms/{code}/channel.json and publishes with a PUT to
// /rooms/{code}/channel/{sender}.json.
type EventStreamTransport struct {
	config     ChannelConfig
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewEventStreamTransport creates a transport for config. httpClient must not
// set a Timeout, since the stream is long-lived.
func NewEventStreamTransport(config ChannelConfig, httpClient *http.Client, logger *zerolog.Logger) *EventStreamTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &EventStreamTransport{config: config, httpClient: httpClient, logger: logger}
}

func (t *EventStreamTransport) roomURL() string {
	return strings.TrimRight(t.config.Endpoint, "/") + "/rooms/" + url.PathEscape(t.config.RoomCode)
}

// NewDecoder returns a fresh event-stream decoder.
func (t *EventStreamTransport) NewDecoder() Decoder {
	return NewEventStreamDecoder(t.logger)
}

// Stream opens the event stream and blocks until it ends or ctx is cancelled.
func (t *EventStreamTransport) Stream(ctx context.Context, h StreamHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.roomURL()+"/channel.json", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("event stream connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode}
	}
	h.OnOpen()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			h.OnBytes(buf[:n])
		}
		if err == io.EOF {
			return ErrStreamEnded
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream read: %w", err)
		}
	}
}

// Publish replaces this sender's slot in the room channel with payload.
func (t *EventStreamTransport) Publish(ctx context.Context, payload []byte) error {
	u := t.roomURL() + "/channel/" + url.PathEscape(t.config.SenderID) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return nil
}
