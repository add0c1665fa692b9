package mwah

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// Transport
// ============================================================================

// StreamHandler receives stream activity from a Transport. p is only valid for
// the duration of the OnBytes call.
type StreamHandler interface {
	OnOpen()
	OnBytes(p []byte)
}

// Transport carries messages between this client and the relay.
type Transport interface {
	// Stream opens the receive side and blocks until it ends. It returns
	// ctx.Err() (or an error wrapping it) when ctx is cancelled.
	Stream(ctx context.Context, h StreamHandler) error
	// Publish sends one encoded message body.
	Publish(ctx context.Context, payload []byte) error
	// NewDecoder returns a decoder for the framing Stream produces.
	NewDecoder() Decoder
}

// NewTransport picks a transport by endpoint scheme: ws:// and wss:// use the
// JSON-envelope WebSocket relay, anything else the event-stream REST relay.
func NewTransport(config ChannelConfig, httpClient *http.Client, logger *zerolog.Logger) Transport {
	if strings.HasPrefix(config.Endpoint, "ws://") || strings.HasPrefix(config.Endpoint, "wss://") {
		return NewWebSocketTransport(config, 0, logger)
	}
	return NewEventStreamTransport(config, httpClient, logger)
}

// ============================================================================
// Configuration
// ============================================================================

// RoomOptions configures a RoomConnection.
type RoomOptions struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	DedupWindow          int
	SendTimeout          time.Duration
	MinHeartInterval     time.Duration
	// HTTPClient is used for the event stream and must not set a Timeout.
	HTTPClient *http.Client
	Clock      Clock
	// Wake, if set, triggers an immediate reconnect after system resume.
	Wake         WakeSource
	Logger       *zerolog.Logger
	NewTransport func(ChannelConfig) Transport
}

func (o *RoomOptions) defaults() {
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ReconnectBaseDelay == 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.ReconnectMaxDelay == 0 {
		o.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if o.DedupWindow == 0 {
		o.DedupWindow = DefaultDedupWindow
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.MinHeartInterval == 0 {
		o.MinHeartInterval = 100 * time.Millisecond
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.NewTransport == nil {
		httpClient, logger := o.HTTPClient, o.Logger
		o.NewTransport = func(config ChannelConfig) Transport {
			return NewTransport(config, httpClient, logger)
		}
	}
}

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu         sync.RWMutex
	onHeart    []func()
	onStatus   []func(bool)
	onPresence []func()
	onLog      []func(string)
}

func (d *eventDispatcher) emitHeart() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onHeart...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitStatus(dnd bool) {
	d.mu.RLock()
	handlers := append([]func(bool){}, d.onStatus...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(dnd)
	}
}

func (d *eventDispatcher) emitPresence() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onPresence...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitLog(message string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onLog...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(message)
	}
}

// ============================================================================
// RoomConnection
// ============================================================================

// RoomConnection keeps a room's channel open: it streams partner messages,
// filters echoes and replays, reconnects with backoff, and publishes local
// events.
//
// Handlers run synchronously, in arrival order, while the connection holds its
// lock, so they must not call back into the RoomConnection. No handler runs
// after Disconnect returns.
type RoomConnection struct {
	opts       RoomOptions
	baseLogger zerolog.Logger
	dispatcher *eventDispatcher
	seq        atomic.Uint64

	mu         sync.Mutex
	state      ConnectionState
	config     ChannelConfig
	transport  Transport
	decoder    Decoder
	dedup      *Deduplicator
	recon      *ReconnectPolicy
	logger     zerolog.Logger
	session    uint64
	gen        uint64
	cancelFn   context.CancelFunc
	streamDone chan struct{}
	retry      Timer
	unsubWake  func()
	lastHeart  time.Time
}

// NewRoomConnection creates a disconnected RoomConnection. opts may be nil.
func NewRoomConnection(opts *RoomOptions) *RoomConnection {
	var o RoomOptions
	if opts != nil {
		o = *opts
	}
	o.defaults()
	base := o.Logger.With().Str("component", "room-connection").Logger()
	return &RoomConnection{
		opts:       o,
		baseLogger: base,
		logger:     base,
		dispatcher: &eventDispatcher{},
		state:      StateDisconnected,
	}
}

// OnHeartReceived registers a handler for partner hearts.
func (c *RoomConnection) OnHeartReceived(h func()) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onHeart = append(c.dispatcher.onHeart, h)
	c.dispatcher.mu.Unlock()
}

// OnStatusReceived registers a handler for partner do-not-disturb changes.
func (c *RoomConnection) OnStatusReceived(h func(dnd bool)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onStatus = append(c.dispatcher.onStatus, h)
	c.dispatcher.mu.Unlock()
}

// OnPresenceReceived registers a handler for partner presence pings.
func (c *RoomConnection) OnPresenceReceived(h func()) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onPresence = append(c.dispatcher.onPresence, h)
	c.dispatcher.mu.Unlock()
}

// OnLog registers a handler for human-readable connection log lines.
func (c *RoomConnection) OnLog(h func(message string)) {
	c.dispatcher.mu.Lock()
	c.dispatcher.onLog = append(c.dispatcher.onLog, h)
	c.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (c *RoomConnection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the config passed to the last Connect.
func (c *RoomConnection) Config() ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Connect starts streaming the room described by config. For the room already
// in use it is a no-op while connecting or connected, and re-establishes the
// stream immediately while reconnecting. A different config tears the current
// session down first. The only errors are config validation errors.
func (c *RoomConnection) Connect(config ChannelConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected && config != c.config {
		c.logf(zerolog.InfoLevel, "Leaving room %s", c.config.RoomCode)
		c.teardownLocked()
	}
	if c.state == StateConnecting || c.state == StateConnected {
		return nil
	}
	if c.state == StateDisconnected {
		c.session++
		c.config = config
		c.transport = c.opts.NewTransport(config)
		c.dedup = NewDeduplicator(c.opts.DedupWindow)
		c.recon = NewReconnectPolicy(c.opts.MaxReconnectAttempts, c.opts.ReconnectBaseDelay, c.opts.ReconnectMaxDelay)
		c.logger = c.baseLogger.With().Str("room", config.RoomCode).Str("sender", config.SenderID).Logger()
		if c.opts.Wake != nil && c.unsubWake == nil {
			c.unsubWake = c.opts.Wake.Subscribe(c.handleWake)
		}
	}
	c.stopRetryLocked()
	c.recon.Reset()
	c.logf(zerolog.InfoLevel, "Connecting to room %s", c.config.RoomCode)
	c.startStreamLocked()
	return nil
}

// Disconnect tears the connection down. Any pending reconnect is cancelled and
// no handler runs after Disconnect returns.
func (c *RoomConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	c.teardownLocked()
	c.logf(zerolog.InfoLevel, "Disconnected from room %s", c.config.RoomCode)
}

// teardownLocked ends the current session: the stream is cancelled, any retry
// is stopped and callbacks from the old generation are ignored from now on.
func (c *RoomConnection) teardownLocked() {
	c.state = StateDisconnected
	c.session++
	c.gen++
	c.cancelStreamLocked()
	c.stopRetryLocked()
	if c.unsubWake != nil {
		c.unsubWake()
		c.unsubWake = nil
	}
}

// Send publishes ev in the background. Failures are logged, never retried.
func (c *RoomConnection) Send(ev OutboundEvent) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.logger.Debug().Msg("send skipped: not connected")
		c.mu.Unlock()
		return
	}
	config, transport, session := c.config, c.transport, c.session
	c.mu.Unlock()

	payload, err := EncodeMessage(config.SenderID, c.seq.Add(1), ev)
	if err != nil {
		c.logIfLive(session, zerolog.WarnLevel, "Send error: %v", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.SendTimeout)
		defer cancel()
		if err := transport.Publish(ctx, payload); err != nil {
			c.logIfLive(session, zerolog.WarnLevel, "Send failed: %v", err)
			return
		}
		if _, ok := ev.(SendHeart); ok {
			c.logIfLive(session, zerolog.InfoLevel, "Heart sent via network")
		}
	}()
}

// SendHeart sends a heart unless one was sent less than MinHeartInterval ago
// or the connection is down. It reports whether a heart was sent.
func (c *RoomConnection) SendHeart() bool {
	c.mu.Lock()
	now := c.opts.Clock.Now()
	if c.state == StateDisconnected || now.Sub(c.lastHeart) < c.opts.MinHeartInterval {
		c.mu.Unlock()
		return false
	}
	c.lastHeart = now
	c.mu.Unlock()

	c.Send(SendHeart{})
	return true
}

// InjectInboundEvent feeds env through the same filtering and dispatch path as
// a message read from the relay. It is meant for tests and debug tooling.
func (c *RoomConnection) InjectInboundEvent(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnected {
		return
	}
	c.dispatchLocked(env)
}

// ============================================================================
// Stream lifecycle
// ============================================================================

type streamHandler struct {
	c   *RoomConnection
	gen uint64
}

func (h *streamHandler) OnOpen()          { h.c.handleOpen(h.gen) }
func (h *streamHandler) OnBytes(p []byte) { h.c.handleBytes(h.gen, p) }

// startStreamLocked replaces the current stream with a new one. The new
// stream waits for the previous one to finish so at most one is open.
func (c *RoomConnection) startStreamLocked() {
	c.cancelStreamLocked()
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFn = cancel
	c.state = StateConnecting
	c.decoder = c.transport.NewDecoder()

	prev := c.streamDone
	done := make(chan struct{})
	c.streamDone = done
	transport := c.transport

	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		err := transport.Stream(ctx, &streamHandler{c: c, gen: gen})
		c.handleStreamEnd(ctx, gen, err)
	}()
}

func (c *RoomConnection) cancelStreamLocked() {
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
}

func (c *RoomConnection) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *RoomConnection) liveLocked(gen uint64) bool {
	return gen == c.gen && c.state != StateDisconnected
}

func (c *RoomConnection) handleOpen(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(gen) {
		return
	}
	c.state = StateConnected
	c.recon.Reset()
	c.logf(zerolog.InfoLevel, "Connected to room %s", c.config.RoomCode)
}

func (c *RoomConnection) handleBytes(gen uint64, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(gen) {
		return
	}
	for _, env := range c.decoder.Decode(p) {
		c.dispatchLocked(env)
	}
}

func (c *RoomConnection) handleStreamEnd(ctx context.Context, gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A cancelled context means we closed the stream ourselves.
	if ctx.Err() != nil || !c.liveLocked(gen) {
		return
	}
	c.cancelStreamLocked()

	if err == nil || errors.Is(err, ErrStreamEnded) {
		c.logf(zerolog.WarnLevel, "Stream ended unexpectedly")
	} else {
		c.logf(zerolog.WarnLevel, "Stream ended: %v", err)
	}
	c.scheduleReconnectLocked()
}

func (c *RoomConnection) scheduleReconnectLocked() {
	if !c.recon.ShouldReconnect() {
		c.logf(zerolog.ErrorLevel, "Giving up after %d reconnect attempts", c.recon.MaxAttempts())
		c.state = StateDisconnected
		c.gen++
		if c.unsubWake != nil {
			c.unsubWake()
			c.unsubWake = nil
		}
		return
	}

	delay := c.recon.NextDelay()
	c.state = StateReconnecting
	c.logf(zerolog.InfoLevel, "Reconnecting in %s (attempt %d)", delay, c.recon.Attempt())

	gen := c.gen
	c.retry = c.opts.Clock.AfterFunc(delay, func() { c.retryStream(gen) })
}

func (c *RoomConnection) retryStream(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.state != StateReconnecting {
		return
	}
	c.retry = nil
	c.startStreamLocked()
}

func (c *RoomConnection) handleWake() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected && c.state != StateReconnecting {
		return
	}
	c.logf(zerolog.InfoLevel, "System woke from sleep, reconnecting")
	c.recon.Reset()
	c.stopRetryLocked()
	c.startStreamLocked()
}

// ============================================================================
// Dispatch
// ============================================================================

func (c *RoomConnection) dispatchLocked(env Envelope) {
	if _, ok := env.Event.(Snapshot); ok {
		c.logf(zerolog.InfoLevel, "Initial snapshot received")
		return
	}
	if env.Sender == c.config.SenderID {
		c.logf(zerolog.DebugLevel, "Skipped own message")
		return
	}

	switch ev := env.Event.(type) {
	case Heart:
		if ev.ID != "" && !c.dedup.ShouldDeliver(ev.ID) {
			c.logf(zerolog.DebugLevel, "Skipped duplicate heart %s...", shortID(ev.ID))
			return
		}
		c.logf(zerolog.InfoLevel, "Heart received from partner")
		c.dispatcher.emitHeart()
	case Status:
		c.logf(zerolog.InfoLevel, "Partner DND: %s", onOff(ev.DoNotDisturb))
		c.dispatcher.emitStatus(ev.DoNotDisturb)
	case Presence:
		c.logf(zerolog.InfoLevel, "Partner presence ping received")
		c.dispatcher.emitPresence()
	case Unknown:
		c.logf(zerolog.DebugLevel, "Unknown message type: %q", ev.Type)
	}
}

// ============================================================================
// Logging
// ============================================================================

func (c *RoomConnection) logf(level zerolog.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.logger.WithLevel(level).Msg(msg)
	c.dispatcher.emitLog(msg)
}

// logIfLive logs from a background goroutine, but only while the connect
// session that started it is still active.
func (c *RoomConnection) logIfLive(session uint64, level zerolog.Level, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.session || c.state == StateDisconnected {
		return
	}
	c.logf(level, format, args...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
