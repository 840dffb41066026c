package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Janar2510/AgentFlow/internal/metrics"
)

const (
	commandTimeout    = 5 * time.Second
	commandBufferSize = 256
	stopTimeout       = 10 * time.Second
)

// SystemChannel is the reserved channel the status publisher broadcasts to.
const SystemChannel = "system"

// ErrManagerStopped is returned by operations issued after Stop.
var ErrManagerStopped = errors.New("realtime manager stopped")

// Eviction reasons, used as metric labels.
const (
	reasonDisconnect   = "disconnect"
	reasonWriteFailure = "write_failure"
	reasonShutdown     = "shutdown"
)

// Metadata describes a live connection.
type Metadata struct {
	EstablishedAt time.Time
	Principal     string
	RemoteAddr    string
}

type connection struct {
	id     uuid.UUID
	conn   *websocket.Conn
	writer *clientWriter
	meta   Metadata
}

// Report describes the outcome of a broadcast fan-out. Attempted counts the
// recipients the fan-out was tried for (after exclusion); Failed lists the
// identities whose delivery failed and were evicted.
type Report struct {
	Attempted int
	Failed    []uuid.UUID
}

// Stats is a point-in-time aggregation over the registry and the channel index.
type Stats struct {
	ConnectionCount    int                    `json:"connection_count"`
	ChannelCount       int                    `json:"channel_count"`
	ChannelSubscribers map[string]int         `json:"channel_subscribers"`
	ConnectionChannels map[uuid.UUID][]string `json:"connection_channels"`
}

// --- Command types ---

type managerCmd interface{ isManagerCmd() }

type baseManagerCmd struct{}

func (baseManagerCmd) isManagerCmd() {}

type acceptCmd struct {
	baseManagerCmd
	conn           *websocket.Conn
	remoteAddr     string
	initialChannel string
	replyChannel   chan uuid.UUID
}

type resolveCmd struct {
	baseManagerCmd
	conn         *websocket.Conn
	replyChannel chan resolveReply
}

type resolveReply struct {
	id uuid.UUID
	ok bool
}

type setPrincipalCmd struct {
	baseManagerCmd
	id        uuid.UUID
	principal string
}

type evictCmd struct {
	baseManagerCmd
	id     uuid.UUID
	reason string
}

type subscribeCmd struct {
	baseManagerCmd
	id      uuid.UUID
	channel string
}

type unsubscribeCmd struct {
	baseManagerCmd
	id      uuid.UUID
	channel string
}

type subscribersOfCmd struct {
	baseManagerCmd
	channel      string
	replyChannel chan []uuid.UUID
}

type channelsOfCmd struct {
	baseManagerCmd
	id           uuid.UUID
	replyChannel chan []string
}

type broadcastCmd struct {
	baseManagerCmd
	channel      string
	payload      Payload
	exclude      uuid.UUID
	replyChannel chan Report
}

type sendCmd struct {
	baseManagerCmd
	id           uuid.UUID
	payload      Payload
	replyChannel chan bool
}

type statsCmd struct {
	baseManagerCmd
	replyChannel chan Stats
}

type stopCmd struct {
	baseManagerCmd
}

// Options tunes the manager; zero values fall back to defaults.
type Options struct {
	// WriteTimeout bounds every transport write; a write exceeding it is a
	// delivery failure, never a hang.
	WriteTimeout time.Duration
	// SendBufferSize is the per-connection outbound queue length.
	SendBufferSize int
}

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultSendBufferSize = 16
)

// Manager is the realtime broadcast manager: a registry of live websocket
// connections multiplexed over named channels. All state is owned by a single
// actor goroutine; the exported methods post commands and wait on reply
// channels with clock-bounded timeouts.
type Manager struct {
	cmdCh          chan managerCmd
	clock          clockwork.Clock
	writeTimeout   time.Duration
	sendBufferSize int

	// Actor-owned state. The subscribers and memberships maps mirror each
	// other: id is in subscribers[ch] iff ch is in memberships[id].
	conns       map[uuid.UUID]*connection
	handles     map[*websocket.Conn]uuid.UUID
	subscribers map[string]map[uuid.UUID]struct{}
	memberships map[uuid.UUID]map[string]struct{}

	done chan struct{}
}

// NewManager creates a manager and starts its actor goroutine.
func NewManager(clock clockwork.Clock, opts Options) *Manager {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBufferSize
	}

	m := &Manager{
		cmdCh:          make(chan managerCmd, commandBufferSize),
		clock:          clock,
		writeTimeout:   opts.WriteTimeout,
		sendBufferSize: opts.SendBufferSize,
		conns:          make(map[uuid.UUID]*connection),
		handles:        make(map[*websocket.Conn]uuid.UUID),
		subscribers:    make(map[string]map[uuid.UUID]struct{}),
		memberships:    make(map[uuid.UUID]map[string]struct{}),
		done:           make(chan struct{}),
	}
	go m.run()
	return m
}

// --- Public API ---

// Accept registers an already-upgraded websocket connection, mints its
// identity, and sends the connection_established envelope over the handle.
// initialChannel, when non-empty, is subscribed before the envelope is sent.
func (m *Manager) Accept(conn *websocket.Conn, remoteAddr, initialChannel string) (uuid.UUID, error) {
	replyCh := make(chan uuid.UUID, 1)
	if err := m.post(acceptCmd{conn: conn, remoteAddr: remoteAddr, initialChannel: initialChannel, replyChannel: replyCh}); err != nil {
		return uuid.Nil, err
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case id := <-replyCh:
		return id, nil
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("accept command timed out after %v", commandTimeout)
	}
}

// Resolve looks up the identity for a transport handle. Needed by call sites
// that only have the handle, such as disconnect signals.
func (m *Manager) Resolve(conn *websocket.Conn) (uuid.UUID, bool) {
	replyCh := make(chan resolveReply, 1)
	if err := m.post(resolveCmd{conn: conn, replyChannel: replyCh}); err != nil {
		return uuid.Nil, false
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case reply := <-replyCh:
		return reply.id, reply.ok
	case <-timer.Chan():
		slog.Warn("Resolve timed out", "timeout", commandTimeout)
		return uuid.Nil, false
	}
}

// SetPrincipal attaches a principal identifier to a connection after an
// external authentication step. Unknown identities are ignored.
func (m *Manager) SetPrincipal(id uuid.UUID, principal string) {
	_ = m.post(setPrincipalCmd{id: id, principal: principal})
}

// Evict removes a connection and all its subscriptions. Safe to call for
// identities that are already gone.
func (m *Manager) Evict(id uuid.UUID) {
	_ = m.post(evictCmd{id: id, reason: reasonDisconnect})
}

// Disconnect evicts the connection behind a transport handle, if any.
func (m *Manager) Disconnect(conn *websocket.Conn) {
	if id, ok := m.Resolve(conn); ok {
		m.Evict(id)
	}
}

// Subscribe adds a connection to a channel. Re-subscribing is a no-op.
// Subscribing an identity unknown to the registry is a warn-logged no-op.
func (m *Manager) Subscribe(id uuid.UUID, channel string) {
	_ = m.post(subscribeCmd{id: id, channel: channel})
}

// Unsubscribe removes a connection from a channel; the channel entry is
// deleted when its subscriber set becomes empty.
func (m *Manager) Unsubscribe(id uuid.UUID, channel string) {
	_ = m.post(unsubscribeCmd{id: id, channel: channel})
}

// SubscribersOf returns a snapshot copy of a channel's subscriber set.
func (m *Manager) SubscribersOf(channel string) []uuid.UUID {
	replyCh := make(chan []uuid.UUID, 1)
	if err := m.post(subscribersOfCmd{channel: channel, replyChannel: replyCh}); err != nil {
		return nil
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case subs := <-replyCh:
		return subs
	case <-timer.Chan():
		slog.Warn("SubscribersOf timed out", "timeout", commandTimeout)
		return nil
	}
}

// ChannelsOf returns a snapshot copy of the channels a connection belongs to.
func (m *Manager) ChannelsOf(id uuid.UUID) []string {
	replyCh := make(chan []string, 1)
	if err := m.post(channelsOfCmd{id: id, replyChannel: replyCh}); err != nil {
		return nil
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case channels := <-replyCh:
		return channels
	case <-timer.Chan():
		slog.Warn("ChannelsOf timed out", "timeout", commandTimeout)
		return nil
	}
}

// Broadcast fans a payload out to every subscriber of channel, excluding
// exclude when it is not uuid.Nil. The payload is enriched once with the
// channel name and a timestamp; delivery is best effort and partial failure
// is reported, never raised. Failed recipients are evicted after the fan-out.
func (m *Manager) Broadcast(channel string, payload Payload, exclude uuid.UUID) (Report, error) {
	replyCh := make(chan Report, 1)
	if err := m.post(broadcastCmd{channel: channel, payload: payload, exclude: exclude, replyChannel: replyCh}); err != nil {
		return Report{}, err
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case report := <-replyCh:
		return report, nil
	case <-timer.Chan():
		return Report{}, fmt.Errorf("broadcast command timed out after %v", commandTimeout)
	}
}

// Send delivers a payload to a single connection, enriched with a timestamp
// unless the payload already carries one. Returns false for unknown
// identities (no side effects) and for delivery failures (which evict).
func (m *Manager) Send(id uuid.UUID, payload Payload) bool {
	replyCh := make(chan bool, 1)
	if err := m.post(sendCmd{id: id, payload: payload, replyChannel: replyCh}); err != nil {
		return false
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case ok := <-replyCh:
		return ok
	case <-timer.Chan():
		slog.Warn("Send timed out", "timeout", commandTimeout)
		return false
	}
}

// Stats returns a point-in-time aggregation over the registry and the index.
func (m *Manager) Stats() (Stats, error) {
	replyCh := make(chan Stats, 1)
	if err := m.post(statsCmd{replyChannel: replyCh}); err != nil {
		return Stats{}, err
	}

	timer := m.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case stats := <-replyCh:
		return stats, nil
	case <-timer.Chan():
		return Stats{}, fmt.Errorf("stats command timed out after %v", commandTimeout)
	}
}

// Stop shuts the manager down, sending close frames to every client. Blocks
// until the actor goroutine has exited or the stop timeout is reached.
func (m *Manager) Stop() {
	if err := m.post(stopCmd{}); err != nil {
		return
	}

	timer := m.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-m.done:
		slog.Info("Realtime manager stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Realtime manager stop timeout exceeded", "timeout", stopTimeout)
	}
}

// post offers a command to the actor, failing fast once the manager stopped.
func (m *Manager) post(cmd managerCmd) error {
	select {
	case <-m.done:
		return ErrManagerStopped
	default:
	}
	select {
	case m.cmdCh <- cmd:
		return nil
	case <-m.done:
		return ErrManagerStopped
	}
}

// evictAsync is called from writer goroutines on transport write failures.
func (m *Manager) evictAsync(id uuid.UUID) {
	go func() {
		select {
		case m.cmdCh <- evictCmd{id: id, reason: reasonWriteFailure}:
		case <-m.done:
		}
	}()
}

// --- Actor loop ---

func (m *Manager) run() {
	defer close(m.done)

	depthTicker := m.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.RealtimeCommandChannelDepth.Set(float64(len(m.cmdCh)))
		case cmd := <-m.cmdCh:
			switch c := cmd.(type) {
			case acceptCmd:
				m.handleAccept(c)
			case resolveCmd:
				id, ok := m.handles[c.conn]
				c.replyChannel <- resolveReply{id: id, ok: ok}
			case setPrincipalCmd:
				m.handleSetPrincipal(c)
			case evictCmd:
				m.handleEvict(c.id, c.reason)
			case subscribeCmd:
				m.handleSubscribe(c.id, c.channel)
			case unsubscribeCmd:
				m.handleUnsubscribe(c.id, c.channel)
			case subscribersOfCmd:
				c.replyChannel <- m.snapshotSubscribers(c.channel)
			case channelsOfCmd:
				c.replyChannel <- m.snapshotChannels(c.id)
			case broadcastCmd:
				c.replyChannel <- m.handleBroadcast(c)
			case sendCmd:
				c.replyChannel <- m.handleSend(c)
			case statsCmd:
				c.replyChannel <- m.handleStats()
			case stopCmd:
				m.handleStop()
				return
			default:
				slog.Warn("Realtime manager received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (m *Manager) handleAccept(c acceptCmd) {
	id := uuid.New()
	writer := newClientWriter(c.conn, m.clock, m.writeTimeout, m.sendBufferSize, func() { m.evictAsync(id) })

	m.conns[id] = &connection{
		id:     id,
		conn:   c.conn,
		writer: writer,
		meta: Metadata{
			EstablishedAt: m.clock.Now().UTC(),
			RemoteAddr:    c.remoteAddr,
		},
	}
	m.handles[c.conn] = id
	m.memberships[id] = make(map[string]struct{})

	if c.initialChannel != "" {
		m.handleSubscribe(id, c.initialChannel)
	}

	metrics.RealtimeActiveConnections.Set(float64(len(m.conns)))
	slog.Info("WebSocket connection established",
		"connection_id", id.String(),
		"channel", c.initialChannel,
		"total_connections", len(m.conns),
	)

	welcome, err := encodeSend(Payload{
		"type":          typeConnectionEstablished,
		"connection_id": id.String(),
	}, m.clock.Now())
	if err == nil {
		writer.enqueue(welcome)
	}

	c.replyChannel <- id
}

func (m *Manager) handleSetPrincipal(c setPrincipalCmd) {
	conn, exists := m.conns[c.id]
	if !exists {
		slog.Warn("SetPrincipal for unknown connection", "connection_id", c.id.String())
		return
	}
	conn.meta.Principal = c.principal
}

func (m *Manager) handleSubscribe(id uuid.UUID, channel string) {
	if _, exists := m.conns[id]; !exists {
		slog.Warn("Subscribe for unknown connection", "connection_id", id.String(), "channel", channel)
		return
	}

	subs, exists := m.subscribers[channel]
	if !exists {
		subs = make(map[uuid.UUID]struct{})
		m.subscribers[channel] = subs
		metrics.RealtimeActiveChannels.Set(float64(len(m.subscribers)))
	}
	subs[id] = struct{}{}
	m.memberships[id][channel] = struct{}{}

	slog.Debug("Connection subscribed to channel", "connection_id", id.String(), "channel", channel)
}

func (m *Manager) handleUnsubscribe(id uuid.UUID, channel string) {
	if subs, exists := m.subscribers[channel]; exists {
		delete(subs, id)
		if len(subs) == 0 {
			delete(m.subscribers, channel)
			metrics.RealtimeActiveChannels.Set(float64(len(m.subscribers)))
		}
	}
	if channels, exists := m.memberships[id]; exists {
		delete(channels, channel)
	}
}

func (m *Manager) handleEvict(id uuid.UUID, reason string) {
	conn, exists := m.conns[id]
	if !exists {
		return
	}

	for channel := range m.memberships[id] {
		m.handleUnsubscribe(id, channel)
	}
	delete(m.memberships, id)
	delete(m.handles, conn.conn)
	delete(m.conns, id)

	conn.writer.stop()

	metrics.RealtimeActiveConnections.Set(float64(len(m.conns)))
	metrics.RealtimeEvictionsTotal.WithLabelValues(reason).Inc()
	slog.Info("WebSocket connection removed",
		"connection_id", id.String(),
		"reason", reason,
		"remaining_connections", len(m.conns),
	)
}

func (m *Manager) snapshotSubscribers(channel string) []uuid.UUID {
	subs, exists := m.subscribers[channel]
	if !exists {
		return nil
	}
	out := make([]uuid.UUID, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

func (m *Manager) snapshotChannels(id uuid.UUID) []string {
	channels, exists := m.memberships[id]
	if !exists {
		return nil
	}
	out := make([]string, 0, len(channels))
	for channel := range channels {
		out = append(out, channel)
	}
	return out
}

func (m *Manager) handleBroadcast(c broadcastCmd) Report {
	subs, exists := m.subscribers[c.channel]
	if !exists {
		metrics.RealtimeBroadcastsTotal.WithLabelValues("empty").Inc()
		return Report{}
	}

	recipients := make([]uuid.UUID, 0, len(subs))
	for id := range subs {
		if id == c.exclude {
			continue
		}
		recipients = append(recipients, id)
	}
	if len(recipients) == 0 {
		metrics.RealtimeBroadcastsTotal.WithLabelValues("empty").Inc()
		return Report{}
	}

	// Enrich and marshal once; every recipient gets the same bytes.
	data, err := encodeBroadcast(c.payload, c.channel, m.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal broadcast message", "channel", c.channel, "error", err)
		return Report{}
	}

	var failed []uuid.UUID
	for _, id := range recipients {
		if !m.conns[id].writer.enqueue(data) {
			failed = append(failed, id)
			continue
		}
		metrics.RealtimeMessagesDeliveredTotal.Inc()
	}

	// Eviction happens after the fan-out loop so the snapshot stays stable.
	for _, id := range failed {
		metrics.RealtimeDeliveryFailuresTotal.Inc()
		slog.Warn("Evicting unresponsive client", "connection_id", id.String(), "channel", c.channel)
		m.handleEvict(id, reasonWriteFailure)
	}

	outcome := "delivered"
	if len(failed) > 0 {
		outcome = "partial"
	}
	metrics.RealtimeBroadcastsTotal.WithLabelValues(outcome).Inc()

	slog.Debug("Message broadcast to channel",
		"channel", c.channel,
		"recipients", len(recipients),
		"failed", len(failed),
	)

	return Report{Attempted: len(recipients), Failed: failed}
}

func (m *Manager) handleSend(c sendCmd) bool {
	conn, exists := m.conns[c.id]
	if !exists {
		slog.Warn("Send to unknown connection", "connection_id", c.id.String())
		return false
	}

	data, err := encodeSend(c.payload, m.clock.Now())
	if err != nil {
		slog.Error("Failed to marshal message", "connection_id", c.id.String(), "error", err)
		return false
	}

	if !conn.writer.enqueue(data) {
		metrics.RealtimeDeliveryFailuresTotal.Inc()
		m.handleEvict(c.id, reasonWriteFailure)
		return false
	}
	return true
}

func (m *Manager) handleStats() Stats {
	stats := Stats{
		ConnectionCount:    len(m.conns),
		ChannelCount:       len(m.subscribers),
		ChannelSubscribers: make(map[string]int, len(m.subscribers)),
		ConnectionChannels: make(map[uuid.UUID][]string, len(m.memberships)),
	}
	for channel, subs := range m.subscribers {
		stats.ChannelSubscribers[channel] = len(subs)
	}
	for id := range m.memberships {
		stats.ConnectionChannels[id] = m.snapshotChannels(id)
	}
	return stats
}

func (m *Manager) handleStop() {
	slog.Info("Realtime manager shutting down", "connections", len(m.conns), "channels", len(m.subscribers))

	for id, conn := range m.conns {
		conn.writer.stopGraceful("Server shutting down")
		delete(m.handles, conn.conn)
		delete(m.conns, id)
		delete(m.memberships, id)
		metrics.RealtimeEvictionsTotal.WithLabelValues(reasonShutdown).Inc()
	}
	for channel := range m.subscribers {
		delete(m.subscribers, channel)
	}

	metrics.RealtimeActiveConnections.Set(0)
	metrics.RealtimeActiveChannels.Set(0)
	slog.Info("Realtime manager shutdown complete")
}
