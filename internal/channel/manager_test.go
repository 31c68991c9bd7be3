package channel

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeClient is an in-memory Client for manager tests.
type fakeClient struct {
	mu       sync.Mutex
	connects int
	events   chan Event
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan Event, 16)}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeClient) Disconnect() {}

func (f *fakeClient) Send(ctx context.Context, recipient, text string) (*SentMessage, error) {
	return &SentMessage{ID: "msg-1", Timestamp: time.Now()}, nil
}

func (f *fakeClient) Events() <-chan Event { return f.events }

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func waitForStatus(t *testing.T, m *Manager, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("manager never reached status %s (stuck at %s)", want, m.Status())
}

func TestConnectBecomesReadyOnReadyEvent(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), false, time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Status() != StatusAuthenticating {
		t.Fatalf("expected authenticating after connect, got %s", m.Status())
	}

	client.events <- Event{Kind: EventReady}
	waitForStatus(t, m, StatusReady)

	// The event is re-exposed to subscribers.
	select {
	case ev := <-m.Events():
		if ev.Kind != EventReady {
			t.Fatalf("expected forwarded ready event, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("ready event was not forwarded")
	}
}

func TestSendRequiresReady(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), false, time.Millisecond)

	if _, err := m.Send(context.Background(), "254700000001", "hi"); err == nil {
		t.Fatal("send before ready should fail")
	}
}

func TestAuthFailureIsNotRetried(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), true, 5*time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	client.events <- Event{Kind: EventAuthFailure, Reason: "bad credentials"}
	waitForStatus(t, m, StatusDisconnected)

	time.Sleep(30 * time.Millisecond)
	if got := client.connectCount(); got != 1 {
		t.Fatalf("auth failure must not trigger reconnect, got %d connects", got)
	}
}

func TestTransientDisconnectReconnects(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), true, 5*time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	client.events <- Event{Kind: EventReady}
	waitForStatus(t, m, StatusReady)

	client.events <- Event{Kind: EventDisconnected, Reason: "stream error"}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if client.connectCount() == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("manager did not reconnect after transient disconnect")
}

func TestDisconnectWithoutAutoReconnectStaysDown(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), false, time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	client.events <- Event{Kind: EventReady}
	waitForStatus(t, m, StatusReady)

	client.events <- Event{Kind: EventDisconnected, Reason: "stream error"}
	waitForStatus(t, m, StatusDisconnected)

	time.Sleep(20 * time.Millisecond)
	if got := client.connectCount(); got != 1 {
		t.Fatalf("auto-reconnect disabled but saw %d connects", got)
	}
}

func TestStopIsTerminal(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, testLogger(), true, time.Millisecond)

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Stop()

	if m.Status() != StatusStopped {
		t.Fatalf("expected stopped, got %s", m.Status())
	}
	if _, ok := <-m.Events(); ok {
		// Drain until closed; buffered events may still be pending.
		for range m.Events() {
		}
	}
}
