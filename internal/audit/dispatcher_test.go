package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("disabled dispatcher should be nil")
	}
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher counters must be zero")
	}
}

func TestDispatcherDrainsOnClose(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	sink := SinkFunc(func(_ context.Context, e Event) {
		mu.Lock()
		got = append(got, e.EventType)
		mu.Unlock()
	})

	d := NewDispatcher(Config{Enabled: true, BufferSize: 16}, sink)
	for _, typ := range []string{"a", "b", "c"} {
		d.Emit(context.Background(), Event{EventType: typ})
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("expected ordered delivery, got %v", got)
	}
	if d.Delivered() != 3 {
		t.Fatalf("expected 3 delivered, got %d", d.Delivered())
	}

	d.Emit(context.Background(), Event{EventType: "late"})
	if d.Delivered() != 3 {
		t.Fatal("emit after close must be ignored")
	}
}

func TestDispatcherDropIfFullCounts(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) { <-block })

	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a blocked sink and tiny buffer")
	}
	close(block)
	d.Close()
}

func TestDispatcherBlockingHonorsContext(t *testing.T) {
	block := make(chan struct{})
	sink := SinkFunc(func(context.Context, Event) { <-block })
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)
	defer func() {
		close(block)
		d.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Emit(ctx, Event{EventType: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("blocking emit did not return after context deadline")
	}
}

func TestJSONWriterSinkOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: "family_revoked", FamilyID: "f1", Cause: "reuse_detected"})
	sink.Emit(context.Background(), Event{EventType: "logout", Subject: "alice", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.FamilyID != "f1" || first.Cause != "reuse_detected" {
		t.Fatalf("unexpected event: %+v", first)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewChannelSink(1)
	b := NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: "x"})
	if (<-a.Events()).EventType != "x" || (<-b.Events()).EventType != "x" {
		t.Fatal("expected both sinks to receive the event")
	}
}
