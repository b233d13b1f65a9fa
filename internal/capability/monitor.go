package capability

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"
)

var ErrDownloadInProgress = errors.New("model download already in progress")

// heuristicStep is the fixed progress increment used when the runtime does
// not report a total; capped below 100 so an unfinished download never looks
// complete.
const (
	heuristicStep = 7
	heuristicCap  = 95
)

// Monitor tracks whether the capability can be used and manages its
// download. State starts at checking; unavailable is terminal for the
// process lifetime. Availability is re-queried on every start, never
// persisted.
type Monitor struct {
	mu       sync.Mutex
	rt       Runtime
	state    State
	progress int
}

// NewMonitor returns a monitor in the checking state.
func NewMonitor(rt Runtime) *Monitor {
	return &Monitor{rt: rt, state: StateChecking}
}

// Check queries the runtime once and settles the initial state.
func (m *Monitor) Check(ctx context.Context) State {
	state, err := m.rt.Availability(ctx)
	if err != nil {
		log.Printf("[capability] availability check failed: %v", err)
		state = StateUnavailable
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateChecking {
		return m.state
	}
	m.state = state
	return m.state
}

// State returns the current state and download progress percentage.
func (m *Monitor) State() (State, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.progress
}

// Available reports whether sessions may be created.
func (m *Monitor) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateAvailable
}

// Params proxies the runtime's sampling parameters.
func (m *Monitor) Params(ctx context.Context) (Params, error) {
	return m.rt.Params(ctx)
}

// StartDownload triggers capability acquisition. It is a no-op unless the
// current state is exactly downloadable; a second invocation while
// downloading is rejected.
func (m *Monitor) StartDownload(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateDownloadable:
	case StateDownloading:
		m.mu.Unlock()
		return ErrDownloadInProgress
	default:
		// Includes available: triggering again leaves state and progress
		// untouched.
		m.mu.Unlock()
		return nil
	}
	m.state = StateDownloading
	m.progress = 0
	m.mu.Unlock()

	err := m.rt.Download(ctx, m.observeProgress)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		log.Printf("[capability] download failed: %v", err)
		m.state = StateUnavailable
		m.progress = 0
		return err
	}
	m.state = StateAvailable
	m.progress = 100
	return nil
}

func (m *Monitor) observeProgress(loaded, total uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDownloading {
		return
	}
	if total == 0 {
		if m.progress < heuristicCap {
			m.progress = min(m.progress+heuristicStep, heuristicCap)
		}
		return
	}
	pct := int(math.Round(float64(loaded) / float64(total) * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	m.progress = pct
}
