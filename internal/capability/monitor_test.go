package capability

import (
	"context"
	"errors"
	"testing"
)

type fakeRuntime struct {
	availability State
	availErr     error
	downloadErr  error
	// download drives the progress observer before returning downloadErr.
	download func(progress func(loaded, total uint64))
}

func (f *fakeRuntime) Availability(context.Context) (State, error) {
	return f.availability, f.availErr
}

func (f *fakeRuntime) Params(context.Context) (Params, error) {
	return Params{DefaultTopK: 3, MaxTopK: 128, DefaultTemperature: 1, MaxTemperature: 2}, nil
}

func (f *fakeRuntime) Download(_ context.Context, progress func(loaded, total uint64)) error {
	if f.download != nil {
		f.download(progress)
	}
	return f.downloadErr
}

func (f *fakeRuntime) NewSession(context.Context, SessionOptions) (Session, error) {
	return nil, ErrUnavailable
}

func TestMonitorStartsChecking(t *testing.T) {
	m := NewMonitor(&fakeRuntime{availability: StateAvailable})
	if state, _ := m.State(); state != StateChecking {
		t.Fatalf("initial state = %s, want checking", state)
	}
}

func TestMonitorCheckSettlesState(t *testing.T) {
	m := NewMonitor(&fakeRuntime{availability: StateDownloadable})
	if got := m.Check(context.Background()); got != StateDownloadable {
		t.Fatalf("Check = %s, want downloadable", got)
	}
}

func TestMonitorCheckErrorMeansUnavailable(t *testing.T) {
	m := NewMonitor(&fakeRuntime{availability: StateAvailable, availErr: errors.New("boom")})
	if got := m.Check(context.Background()); got != StateUnavailable {
		t.Fatalf("Check = %s, want unavailable", got)
	}
}

func TestDownloadWhileAvailableIsNoOp(t *testing.T) {
	rt := &fakeRuntime{availability: StateAvailable}
	m := NewMonitor(rt)
	m.Check(context.Background())

	if err := m.StartDownload(context.Background()); err != nil {
		t.Fatalf("StartDownload err: %v", err)
	}
	state, progress := m.State()
	if state != StateAvailable || progress != 0 {
		t.Fatalf("state/progress changed: %s %d", state, progress)
	}
}

func TestDownloadSuccess(t *testing.T) {
	rt := &fakeRuntime{
		availability: StateDownloadable,
		download: func(progress func(loaded, total uint64)) {
			progress(25, 100)
			progress(50, 100)
			progress(100, 100)
		},
	}
	m := NewMonitor(rt)
	m.Check(context.Background())

	if err := m.StartDownload(context.Background()); err != nil {
		t.Fatalf("StartDownload err: %v", err)
	}
	state, progress := m.State()
	if state != StateAvailable {
		t.Fatalf("state = %s, want available", state)
	}
	if progress != 100 {
		t.Fatalf("progress = %d, want 100", progress)
	}
}

func TestDownloadFailureResets(t *testing.T) {
	rt := &fakeRuntime{
		availability: StateDownloadable,
		downloadErr:  errors.New("network"),
		download: func(progress func(loaded, total uint64)) {
			progress(10, 100)
		},
	}
	m := NewMonitor(rt)
	m.Check(context.Background())

	if err := m.StartDownload(context.Background()); err == nil {
		t.Fatal("expected download error")
	}
	state, progress := m.State()
	if state != StateUnavailable {
		t.Fatalf("state = %s, want unavailable", state)
	}
	if progress != 0 {
		t.Fatalf("progress = %d, want 0", progress)
	}
}

func TestDownloadUnknownTotalCapsBelowComplete(t *testing.T) {
	var m *Monitor
	var observed int
	rt := &fakeRuntime{availability: StateDownloadable}
	rt.download = func(progress func(loaded, total uint64)) {
		for i := 0; i < 50; i++ {
			progress(uint64(i), 0)
			if _, p := m.State(); p > observed {
				observed = p
			}
		}
	}
	m = NewMonitor(rt)
	m.Check(context.Background())

	if err := m.StartDownload(context.Background()); err != nil {
		t.Fatalf("StartDownload err: %v", err)
	}
	if observed >= 100 {
		t.Fatalf("heuristic progress reached %d while downloading, must stay below 100", observed)
	}
	if observed == 0 {
		t.Fatal("heuristic progress never advanced")
	}
	if _, final := m.State(); final != 100 {
		t.Fatalf("final progress = %d, want 100", final)
	}
}

func TestSecondDownloadRejectedWhileDownloading(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rt := &fakeRuntime{availability: StateDownloadable}
	rt.download = func(progress func(loaded, total uint64)) {
		close(started)
		<-release
	}
	m := NewMonitor(rt)
	m.Check(context.Background())

	done := make(chan error, 1)
	go func() { done <- m.StartDownload(context.Background()) }()
	<-started

	if err := m.StartDownload(context.Background()); !errors.Is(err, ErrDownloadInProgress) {
		t.Fatalf("expected ErrDownloadInProgress, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first download err: %v", err)
	}
}
