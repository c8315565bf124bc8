package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polysweep/sweepmon/internal/domain"
	"github.com/polysweep/sweepmon/internal/platform/polymarket"
)

type fakeSource struct {
	mu  sync.Mutex
	ids []string
}

func (s *fakeSource) ActiveInstrumentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func (s *fakeSource) HasActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids) > 0
}

func (s *fakeSource) setIDs(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = ids
}

type recordingHandler struct {
	mu          sync.Mutex
	books       []domain.BookSnapshot
	ticks       []domain.TickSizeChange
	errors      []string
	disconnects []string
}

func (h *recordingHandler) HandleBook(snap domain.BookSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.books = append(h.books, snap)
}

func (h *recordingHandler) HandleTickSizeChange(chg domain.TickSizeChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks = append(h.ticks, chg)
}

func (h *recordingHandler) HandleProtocolError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
}

func (h *recordingHandler) HandleDisconnect(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, reason)
}

func (h *recordingHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

func (h *recordingHandler) snapshot() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.books), len(h.ticks), len(h.errors)
}

func testConfig(url string) Config {
	return Config{
		URL:              url,
		ReconnectDelay:   20 * time.Millisecond,
		HandshakeTimeout: time.Second,
		PingTimeout:      5 * time.Second,
		Depth:            5,
		StopWhenIdle:     true,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var upgrader = websocket.Upgrader{}

func TestRunDispatchesInboundMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// First inbound frame must be the subscribe command.
		var cmd polymarket.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if cmd.Type != "subscribe" || len(cmd.AssetIDs) != 1 || cmd.AssetIDs[0] != "tok-up" {
			t.Errorf("subscribe frame = %+v", cmd)
		}

		frames := []string{
			`[]`,                // empty batch: ignored
			"INVALID OPERATION", // raw control text: tolerated silently
			`{"event_type":"book","asset_id":"tok-up","bids":[{"price":"0.995","size":"12"}],"asks":[],"timestamp":"1700000000123"}`,
			`[{"event_type":"tick_size_change","asset_id":"tok-up","old_tick_size":"0.01","new_tick_size":"0.001","timestamp":"1700000000500"}]`,
			`{"event_type":"book","asset_id":"tok-up","bids":"oops"}`, // malformed structured payload
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
		// Hold the session open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	source := &fakeSource{ids: []string{"tok-up"}}
	handler := &recordingHandler{}
	m := New(testConfig(wsURL(srv)), source, handler, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for {
		books, ticks, errs := handler.snapshot()
		if books == 1 && ticks == 1 && errs == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dispatch counts books=%d ticks=%d errs=%d, want 1/1/1", books, ticks, errs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if handler.books[0].InstrumentID != "tok-up" || handler.books[0].BestBid != "0.995" {
		t.Errorf("book snapshot = %+v", handler.books[0])
	}
	if handler.ticks[0].NewTickSize != "0.001" {
		t.Errorf("tick change = %+v", handler.ticks[0])
	}
}

func TestReconnectUsesCurrentSubscriptionSet(t *testing.T) {
	type subFrame struct {
		ids []string
	}
	subs := make(chan subFrame, 4)
	var connCount int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd polymarket.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subs <- subFrame{ids: cmd.AssetIDs}

		mu.Lock()
		connCount++
		first := connCount == 1
		mu.Unlock()

		if first {
			// Abnormal close: the client must reconnect.
			return
		}
		// Second session: hold until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	source := &fakeSource{ids: []string{"tok-a"}}
	handler := &recordingHandler{}
	m := New(testConfig(wsURL(srv)), source, handler, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	first := <-subs
	if len(first.ids) != 1 || first.ids[0] != "tok-a" {
		t.Fatalf("first subscribe = %v", first.ids)
	}

	// The set changes during the outage; the reconnect must carry the new set.
	source.setIDs([]string{"tok-b", "tok-c"})

	select {
	case second := <-subs:
		if len(second.ids) != 2 || second.ids[0] != "tok-b" || second.ids[1] != "tok-c" {
			t.Fatalf("resubscribe = %v, want the updated set", second.ids)
		}
	case <-ctx.Done():
		t.Fatal("no reconnect before timeout")
	}

	// The abnormal close between the two sessions must be reported.
	if handler.disconnectCount() == 0 {
		t.Error("session loss not reported to the handler")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunKeepsRetryingForRollingWindows(t *testing.T) {
	subs := make(chan []string, 4)
	first := make(chan struct{})
	var connCount int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		if n == 1 {
			// Session dies while nothing is subscribed yet.
			close(first)
			return
		}

		// A session dialed before the market activated carries no subscribe
		// frame; drop it and let the client retry.
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		var cmd polymarket.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		subs <- cmd.AssetIDs
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	source := &fakeSource{} // no active market yet
	handler := &recordingHandler{}
	cfg := testConfig(wsURL(srv))
	cfg.StopWhenIdle = false // rolling-window mode
	m := New(cfg, source, handler, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	<-first
	// The market activates while the feed is between sessions.
	source.setIDs([]string{"tok-roll"})

	select {
	case ids := <-subs:
		if len(ids) != 1 || ids[0] != "tok-roll" {
			t.Fatalf("subscribe after idle gap = %v", ids)
		}
	case <-ctx.Done():
		t.Fatal("feed gave up instead of retrying through the idle gap")
	}
	if handler.disconnectCount() == 0 {
		t.Error("idle-gap session loss not reported to the handler")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSubscribeWhileDisconnectedIsNoOp(t *testing.T) {
	m := New(testConfig("ws://127.0.0.1:0"), &fakeSource{}, &recordingHandler{}, discardLogger())

	// Must not panic or error without a live connection.
	m.Subscribe([]string{"tok-a"})
	m.Unsubscribe([]string{"tok-a"})
}

func TestRunStopsWhenNoActiveMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // immediate abnormal close
	}))
	defer srv.Close()

	// Source with no active markets: a session end must not reconnect.
	m := New(testConfig(wsURL(srv)), &fakeSource{}, &recordingHandler{}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("run only stopped because the test timed out")
	}
}

func TestDispatchBatchDecoding(t *testing.T) {
	handler := &recordingHandler{}
	m := New(testConfig("ws://unused"), &fakeSource{}, handler, discardLogger())

	batch, _ := json.Marshal([]json.RawMessage{
		json.RawMessage(`{"event_type":"book","asset_id":"a","bids":[],"asks":[]}`),
		json.RawMessage(`{"event_type":"book","asset_id":"b","bids":[],"asks":[]}`),
	})
	m.dispatch(batch)

	books, _, errs := handler.snapshot()
	if books != 2 || errs != 0 {
		t.Fatalf("books=%d errs=%d, want 2/0", books, errs)
	}
}
