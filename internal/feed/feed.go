// Package feed owns the single streaming connection to the market websocket:
// subscribe/unsubscribe framing, inbound dispatch, and reconnect-on-failure.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/platform/polymarket"
)

// writeWait is the time allowed to write a message to the peer.
const writeWait = 10 * time.Second

// Handler consumes structured inbound feed messages.
type Handler interface {
	HandleBook(snap domain.BookSnapshot)
	HandleTickSizeChange(chg domain.TickSizeChange)
	// HandleProtocolError receives malformed structured payloads; the
	// session continues.
	HandleProtocolError(msg string)
	// HandleDisconnect is invoked when a session terminates abnormally,
	// before the reconnect delay, so the outage lands in the event log.
	HandleDisconnect(reason string)
}

// SubscriptionSource supplies the current subscription set. The set is
// re-read on every (re)connect so changes made during an outage are honored.
type SubscriptionSource interface {
	ActiveInstrumentIDs() []string
	HasActive() bool
}

// Config holds the connection parameters of the Manager.
type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	PingTimeout      time.Duration
	Depth            int // book levels retained per side
	// StopWhenIdle makes Run return once no market is ACTIVE. Ad-hoc
	// monitoring of a fixed market list sets this; rolling-window monitoring
	// leaves it off so the session survives inactive gaps between windows.
	StopWhenIdle bool
}

// Manager maintains exactly one logical websocket session at a time.
type Manager struct {
	cfg     Config
	source  SubscriptionSource
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Manager. Run must be called to start the session.
func New(cfg Config, source SubscriptionSource, handler Handler, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Run connects and reads until ctx is cancelled, or, with StopWhenIdle set,
// until no market remains active. On abnormal termination it reports the
// outage through the handler, waits the fixed reconnect delay, and dials
// again with the subscription set as it is then, not as it was at the
// original connect. Returns nil on any graceful exit.
func (m *Manager) Run(ctx context.Context) error {
	for {
		ids := m.source.ActiveInstrumentIDs()
		err := m.connectAndRun(ctx, ids)

		if ctx.Err() != nil {
			return nil
		}
		if m.cfg.StopWhenIdle && !m.source.HasActive() {
			m.logger.Info("no active markets remain, feed stopping")
			return nil
		}

		if err != nil {
			m.handler.HandleDisconnect(errString(err))
		}
		m.logger.Warn("feed session ended, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", m.cfg.ReconnectDelay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.cfg.ReconnectDelay):
		}
	}
}

// Subscribe sends an incremental subscribe frame for ids over the live
// connection. A safe no-op while disconnected: the next reconnect picks the
// ids up from the subscription source.
func (m *Manager) Subscribe(ids []string) {
	m.send("subscribe", ids)
}

// Unsubscribe sends an incremental unsubscribe frame for ids.
func (m *Manager) Unsubscribe(ids []string) {
	m.send("unsubscribe", ids)
}

func (m *Manager) send(typ string, ids []string) {
	if len(ids) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		m.logger.Debug("no live connection, skipping frame",
			slog.String("type", typ),
			slog.Int("instruments", len(ids)))
		return
	}
	if err := m.writeCommand(polymarket.WSCommand{Type: typ, AssetIDs: ids}); err != nil {
		m.logger.Warn("frame write failed",
			slog.String("type", typ),
			slog.String("error", err.Error()))
	}
}

// writeCommand marshals and writes a command frame. Caller must hold m.mu.
func (m *Manager) writeCommand(cmd polymarket.WSCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	m.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return m.conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) connectAndRun(ctx context.Context, ids []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", m.cfg.URL, err)
	}

	m.mu.Lock()
	m.conn = conn
	if len(ids) > 0 {
		err = m.writeCommand(polymarket.WSCommand{Type: "subscribe", AssetIDs: ids})
	}
	m.mu.Unlock()
	if err != nil {
		m.teardown(conn)
		return fmt.Errorf("feed: initial subscribe: %w", err)
	}

	m.logger.Info("feed connected",
		slog.String("url", m.cfg.URL),
		slog.Int("instruments", len(ids)))

	// Close the connection when ctx ends so ReadMessage unblocks.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer m.teardown(conn)

	conn.SetReadDeadline(time.Now().Add(m.cfg.PingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.cfg.PingTimeout))
		return nil
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go m.pingLoop(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(m.cfg.PingTimeout))
		m.dispatch(message)
	}
}

// teardown clears the live connection handle and closes the socket, so
// concurrent Subscribe/Unsubscribe calls degrade to logged no-ops.
func (m *Manager) teardown(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	period := m.cfg.PingTimeout * 9 / 10
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if m.conn != conn {
				m.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// dispatch routes one inbound frame. Non-JSON control text (the server sends
// "INVALID OPERATION" style keep-alive responses) is tolerated silently;
// structured-but-malformed payloads go to the handler as protocol errors.
func (m *Manager) dispatch(message []byte) {
	if !json.Valid(message) {
		m.logger.Debug("non-JSON frame ignored", slog.Int("bytes", len(message)))
		return
	}

	var items []json.RawMessage
	if err := json.Unmarshal(message, &items); err != nil {
		// Single object rather than a batch.
		items = []json.RawMessage{message}
	}
	if len(items) == 0 {
		return
	}

	for _, item := range items {
		m.dispatchOne(item)
	}
}

func (m *Manager) dispatchOne(item []byte) {
	var env polymarket.WSEnvelope
	if err := json.Unmarshal(item, &env); err != nil {
		m.handler.HandleProtocolError(fmt.Sprintf("undecodable message: %v", err))
		return
	}

	switch env.Kind() {
	case "book":
		var msg polymarket.BookMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			m.handler.HandleProtocolError(fmt.Sprintf("malformed book message: %v", err))
			return
		}
		m.handler.HandleBook(polymarket.BookToSnapshot(&msg, m.cfg.Depth))

	case "tick_size_change":
		var msg polymarket.TickSizeChangeMessage
		if err := json.Unmarshal(item, &msg); err != nil {
			m.handler.HandleProtocolError(fmt.Sprintf("malformed tick_size_change message: %v", err))
			return
		}
		m.handler.HandleTickSizeChange(polymarket.TickChangeToDomain(&msg))

	default:
		m.logger.Debug("unhandled message kind", slog.String("kind", env.Kind()))
	}
}

func errString(err error) string {
	if err == nil {
		return "<none>"
	}
	return err.Error()
}
