package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xliquidity/rebalance-engine/internal/model"
)

func event(name string) model.AuditEvent {
	pos := model.PositionKey{Owner: "alice", Index: 0}
	idx := uint32(3)
	return model.AuditEvent{
		ID:        "evt-" + name,
		Name:      name,
		Position:  &pos,
		Decision:  &idx,
		Principal: "model-bot",
		Payload:   map[string]any{"risk_tier": "low"},
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

type errSink struct{ err error }

func (s errSink) Record(context.Context, model.AuditEvent) error { return s.err }

func TestMulti_AttemptsEverySink(t *testing.T) {
	first := &Memory{}
	last := &Memory{}
	boom := errors.New("boom")
	m := Multi{first, errSink{boom}, last}

	err := m.Record(context.Background(), event(EventRebalanced))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(first.Events()) != 1 || len(last.Events()) != 1 {
		t.Error("every sink should receive the event even when one fails")
	}
}

func TestFileSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := NewFileSink(path, FileOptions{MaxSizeMB: 1})
	ctx := context.Background()

	for _, name := range []string{EventDecisionCreated, EventRebalanced} {
		if err := sink.Record(ctx, event(name)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e model.AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line is not JSON: %v", err)
		}
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "decision_created,rebalanced" {
		t.Errorf("unexpected events in file: %v", names)
	}
}

func TestDiscardAndLogSink(t *testing.T) {
	ctx := context.Background()
	if err := (Discard{}).Record(ctx, event(EventFeesCollected)); err != nil {
		t.Errorf("discard: %v", err)
	}
	if err := NewLogSink(nil).Record(ctx, event(EventFeesCollected)); err != nil {
		t.Errorf("log sink: %v", err)
	}
}

func TestHub_RecordNeverBlocks(t *testing.T) {
	h := NewHub()
	// No Run loop: the buffer fills and further events are dropped.
	for i := 0; i < cap(h.broadcast)+10; i++ {
		if err := h.Record(context.Background(), event(EventPositionCreated)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if len(h.broadcast) != cap(h.broadcast) {
		t.Errorf("expected full buffer, got %d/%d", len(h.broadcast), cap(h.broadcast))
	}
}

func TestHub_StreamsEvents(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration is asynchronous; keep publishing until one arrives.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			h.Record(ctx, event(EventRebalanced))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var e model.AuditEvent
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Name != EventRebalanced || e.Position == nil || e.Position.Owner != "alice" {
		t.Errorf("unexpected event: %+v", e)
	}
	cancel()
	<-done
}
