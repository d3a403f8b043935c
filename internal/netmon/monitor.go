// Package netmon observes network reachability and publishes state changes
// to subscribers. It degrades to reporting unknown when observation fails;
// consumers treat unknown as disconnected.
package netmon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"daymark/internal/models"

	"github.com/rs/zerolog"
)

// Monitor polls a Prober and fans state changes out to subscribers. State
// is written only by the probe loop; reads take a snapshot.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.RWMutex
	state   models.ConnectivityState
	subs    map[int]chan models.ConnectivityState
	nextSub int

	started atomic.Bool
	stop    context.CancelFunc
	done    chan struct{}
}

func NewMonitor(prober Prober, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if prober == nil {
		prober = InterfaceProber{}
	}
	if interval <= 0 {
		interval = models.DefaultProbeInterval
	}
	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "netmon").Logger()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   log,
		state:    models.ConnectivityState{Status: models.ConnUnknown},
		subs:     make(map[int]chan models.ConnectivityState),
	}
}

// Start begins observation. Calling Start twice is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.done = make(chan struct{})

	m.probe(loopCtx)

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.probe(loopCtx)
			}
		}
	}()
}

// Stop cancels the observation loop and waits for it to exit.
func (m *Monitor) Stop() {
	if !m.started.Load() || m.stop == nil {
		return
	}
	m.stop()
	<-m.done
}

// State returns the current snapshot.
func (m *Monitor) State() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel receiving state changes and a cancel func.
// The channel is buffered; a slow consumer misses intermediate states but
// always sees the latest.
func (m *Monitor) Subscribe() (<-chan models.ConnectivityState, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan models.ConnectivityState, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	next, err := m.prober.Probe(ctx)
	if err != nil {
		// Observation failure is not fatal: report unknown and keep polling.
		m.logger.Warn().Err(err).Msg("connectivity probe failed")
		next = models.ConnectivityState{Status: models.ConnUnknown}
	}

	m.mu.Lock()
	if next == m.state {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = next

	// Fan out under the lock so a concurrent unsubscribe cannot close a
	// channel mid-send. Sends never block: a stale unread state is
	// replaced by the latest one.
	for _, ch := range m.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("from", string(prev.Status)).
		Str("to", string(next.Status)).
		Str("kind", string(next.Kind)).
		Bool("expensive", next.Expensive).
		Msg("connectivity changed")
}
