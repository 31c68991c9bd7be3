package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusConnecting     Status = "connecting"
	StatusAuthenticating Status = "authenticating"
	StatusReady          Status = "ready"
	StatusDisconnected   Status = "disconnected"
	StatusStopped        Status = "stopped"
)

// Manager supervises the single messaging session. It owns one Client,
// tracks the lifecycle state, re-exposes the client's events to the engine
// and optionally reconnects after a transient drop. Authentication failure
// is terminal for the session: the operator has to re-authenticate, the
// manager never retries it on its own.
type Manager struct {
	client         Client
	log            *logrus.Logger
	autoReconnect  bool
	reconnectDelay time.Duration

	mu     sync.Mutex
	status Status

	out      chan Event
	stop     chan struct{}
	pumpDone chan struct{}
	stopOnce sync.Once
}

func NewManager(client Client, log *logrus.Logger, autoReconnect bool, reconnectDelay time.Duration) *Manager {
	return &Manager{
		client:         client,
		log:            log,
		autoReconnect:  autoReconnect,
		reconnectDelay: reconnectDelay,
		status:         StatusDisconnected,
		out:            make(chan Event, 64),
		stop:           make(chan struct{}),
	}
}

// Connect starts the session and the event pump. Readiness is reported
// asynchronously via Events.
func (m *Manager) Connect(ctx context.Context) error {
	m.setStatus(StatusConnecting)
	if err := m.client.Connect(ctx); err != nil {
		m.setStatus(StatusDisconnected)
		return err
	}
	m.setStatus(StatusAuthenticating)

	if m.pumpDone == nil {
		m.pumpDone = make(chan struct{})
		go m.pump(ctx)
	}
	return nil
}

func (m *Manager) pump(ctx context.Context) {
	defer close(m.pumpDone)
	for {
		select {
		case <-m.stop:
			return
		case ev, ok := <-m.client.Events():
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *Manager) handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventAuthenticated:
		m.log.Info("channel session authenticated")
	case EventReady:
		m.setStatus(StatusReady)
		m.log.Info("channel connection ready")
	case EventAuthFailure:
		m.setStatus(StatusDisconnected)
		m.log.WithField("reason", ev.Reason).Error("channel authentication failed; operator re-authentication required")
	case EventDisconnected:
		wasReady := m.Status() == StatusReady
		m.setStatus(StatusDisconnected)
		m.log.WithField("reason", ev.Reason).Warn("channel disconnected")
		if wasReady && m.autoReconnect {
			go m.reconnect(ctx)
		}
	}
	m.forward(ev)
}

func (m *Manager) reconnect(ctx context.Context) {
	select {
	case <-m.stop:
		return
	case <-time.After(m.reconnectDelay):
	}
	if m.Status() != StatusDisconnected {
		return
	}
	m.log.Info("attempting channel reconnect")
	m.setStatus(StatusConnecting)
	if err := m.client.Connect(ctx); err != nil {
		m.log.WithError(err).Error("reconnect failed")
		m.setStatus(StatusDisconnected)
		return
	}
	m.setStatus(StatusAuthenticating)
}

// Send delivers a message through the channel; callers must have passed
// rate-limit admission first.
func (m *Manager) Send(ctx context.Context, recipient, text string) (*SentMessage, error) {
	if s := m.Status(); s != StatusReady {
		return nil, fmt.Errorf("channel not ready (status %s)", s)
	}
	return m.client.Send(ctx, recipient, text)
}

// Disconnect tears the session down without stopping the manager; a
// subsequent Connect may re-establish it.
func (m *Manager) Disconnect(reason string) {
	m.client.Disconnect()
	m.setStatus(StatusDisconnected)
	m.forward(Event{Kind: EventDisconnected, Reason: reason})
}

// Stop shuts the manager down for good: the session is torn down, the event
// stream is closed and the status becomes stopped.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.client.Disconnect()
		if m.pumpDone != nil {
			<-m.pumpDone
		}
		m.setStatus(StatusStopped)
		close(m.out)
	})
}

func (m *Manager) Events() <-chan Event {
	return m.out
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) forward(ev Event) {
	select {
	case m.out <- ev:
	default:
		m.log.WithField("kind", ev.Kind).Warn("manager event buffer full, dropping event")
	}
}
