package live

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedWrite struct {
	messageType int
	data        string
}

type fakeWSWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
}

func (f *fakeWSWriter) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWSWriter) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, recordedWrite{messageType: messageType, data: string(data)})
	return nil
}

func (f *fakeWSWriter) WriteControl(messageType int, data []byte, deadline time.Time) error {
	_ = deadline
	return f.WriteMessage(messageType, data)
}

func (f *fakeWSWriter) Close() error { return nil }

func (f *fakeWSWriter) snapshot() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func TestOutboundWriter_PriorityBeatsNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	normal <- outboundFrame{payload: []byte(`{"type":"audio_chunk","seq":1,"audio_b64":"AAAA"}`)}
	priority <- outboundFrame{payload: []byte(`{"type":"state","state":"interrupted"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 {
		t.Fatalf("expected at least one write")
	}
	if !strings.Contains(writes[0].data, `"type":"state"`) {
		t.Fatalf("first write was not the state frame: %q", writes[0].data)
	}
}

func TestOutboundWriter_DrainsAllFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 4)

	normal <- outboundFrame{payload: []byte(`{"type":"transcript","text":"hi","is_final":true}`)}
	normal <- outboundFrame{payload: []byte(`{"type":"agent_text","text":"hello"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if writes := ws.snapshot(); len(writes) != 2 {
		t.Fatalf("expected 2 writes, got %d: %+v", len(writes), writes)
	}
}

func TestOutboundWriter_FlushesPriorityOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	priority := make(chan outboundFrame, 1)
	normal := make(chan outboundFrame, 1)

	priority <- outboundFrame{payload: []byte(`{"type":"error","code":"draining","message":"shutting down"}`)}
	close(priority)
	close(normal)

	ws := &fakeWSWriter{}
	w := outboundWriter{
		ws:           ws,
		ctx:          ctx,
		pingInterval: time.Hour,
		writeTimeout: time.Second,
		priority:     priority,
		normal:       normal,
	}

	cancel()
	if err := w.Run(); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	writes := ws.snapshot()
	if len(writes) == 0 || !strings.Contains(writes[0].data, `"code":"draining"`) {
		t.Fatalf("expected draining error to flush on shutdown, writes=%+v", writes)
	}
}
