package mwah

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// JSON-Envelope Decoder
// ============================================================================

// Envelope event names. Anything other than EventMessage is a control frame.
const (
	EventMessage    = "message"
	EventSubscribe  = "subscribe"
	EventSubscribed = "subscribed"
	EventConnected  = "connected"
)

// Frame is the JSON envelope every WebSocket frame is wrapped in. Data holds
// the message body, usually as an escaped JSON string.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// EnvelopeDecoder decodes one JSON envelope per call.
type EnvelopeDecoder struct {
	logger zerolog.Logger
}

// NewEnvelopeDecoder creates a decoder. A nil logger discards debug output.
func NewEnvelopeDecoder(logger *zerolog.Logger) *EnvelopeDecoder {
	d := &EnvelopeDecoder{logger: zerolog.Nop()}
	if logger != nil {
		d.logger = logger.With().Str("component", "envelope-decoder").Logger()
	}
	return d
}

// Decode parses a single frame. Control frames and malformed input yield nothing.
func (d *EnvelopeDecoder) Decode(p []byte) []Envelope {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		d.logger.Debug().Err(err).Msg("dropping malformed frame")
		return nil
	}
	if f.Event != EventMessage {
		d.logger.Debug().Str("event", f.Event).Msg("control frame")
		return nil
	}

	body := []byte(f.Data)
	var nested string
	if err := json.Unmarshal(f.Data, &nested); err == nil {
		body = []byte(nested)
	}

	msg, ev, ok := decodeMessage(body)
	if !ok {
		d.logger.Debug().Str("data", string(f.Data)).Msg("dropping malformed message")
		return nil
	}
	// Without a sender the message cannot be told apart from our own echo.
	if msg.Sender == "" {
		d.logger.Debug().Str("data", string(f.Data)).Msg("dropping message without sender")
		return nil
	}
	return []Envelope{{Sender: msg.Sender, Event: ev}}
}

// Reset is a no-op; envelopes carry no state across frames.
func (d *EnvelopeDecoder) Reset() {}

// ============================================================================
// WebSocket Transport
// ============================================================================

const (
	defaultHeartbeatInterval = 25 * time.Second
	heartbeatTimeout         = 10 * time.Second
)

// WebSocketTransport talks to a push relay that fans JSON envelopes out to
// every subscriber of a channel.
type WebSocketTransport struct {
	config            ChannelConfig
	heartbeatInterval time.Duration
	logger            *zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWebSocketTransport creates a transport for config. A zero heartbeat
// interval uses the default of 25s.
func NewWebSocketTransport(config ChannelConfig, heartbeatInterval time.Duration, logger *zerolog.Logger) *WebSocketTransport {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &WebSocketTransport{config: config, heartbeatInterval: heartbeatInterval, logger: logger}
}

func (t *WebSocketTransport) channel() string {
	return "room-" + t.config.RoomCode
}

// NewDecoder returns an envelope decoder.
func (t *WebSocketTransport) NewDecoder() Decoder {
	return NewEnvelopeDecoder(t.logger)
}

// Stream dials the relay, subscribes to the room channel and blocks reading
// frames until the connection ends or ctx is cancelled.
func (t *WebSocketTransport) Stream(ctx context.Context, h StreamHandler) error {
	conn, _, err := websocket.Dial(ctx, t.config.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := t.writeFrame(ctx, conn, Frame{Event: EventSubscribe, Channel: t.channel()}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	h.OnOpen()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go t.heartbeatLoop(hbCtx, conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ErrStreamEnded
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		h.OnBytes(data)
	}
}

// Publish writes payload as a message frame on the open stream connection, or
// on a short-lived one when no stream is open.
func (t *WebSocketTransport) Publish(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		c, _, err := websocket.Dial(ctx, t.config.Endpoint, nil)
		if err != nil {
			return fmt.Errorf("websocket dial: %w", err)
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		conn = c
	}

	data, err := json.Marshal(string(payload))
	if err != nil {
		return err
	}
	return t.writeFrame(ctx, conn, Frame{Event: EventMessage, Channel: t.channel(), Data: data})
}

func (t *WebSocketTransport) writeFrame(ctx context.Context, conn *websocket.Conn, f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (t *WebSocketTransport) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Force close so the read loop reports the dead connection.
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}
