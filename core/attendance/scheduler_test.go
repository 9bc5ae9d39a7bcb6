package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSource) Capture(context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return Frame{}, s.err
	}
	return Frame{Data: []byte("jpeg"), CapturedAt: time.Now()}, nil
}

func (s *stubSource) Close() error { return nil }

// scriptedRecognize replays the given results in order, repeating the
// last one forever, and counts delivered calls.
type scriptedRecognize struct {
	mu      sync.Mutex
	results []func() (Recognition, error)
	calls   int
}

func (sr *scriptedRecognize) recognize(context.Context, Frame, int, string) (Recognition, error) {
	sr.mu.Lock()
	i := sr.calls
	sr.calls++
	if i >= len(sr.results) {
		i = len(sr.results) - 1
	}
	next := sr.results[i]
	sr.mu.Unlock()
	return next()
}

func (sr *scriptedRecognize) callCount() int {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.calls
}

func testSession(interval time.Duration) *Session {
	sess := NewSession(7, "2024-05-01", false)
	sess.Interval = interval
	return sess
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func matched(id int, name string) func() (Recognition, error) {
	return func() (Recognition, error) {
		return Recognition{Outcome: Matched, StudentID: id, FullName: name}, nil
	}
}

func noMatch() (Recognition, error) { return Recognition{Outcome: NoMatch}, nil }

func TestSchedulerRecordsMatchesOnce(t *testing.T) {
	store := NewStore()
	script := &scriptedRecognize{results: []func() (Recognition, error){
		matched(42, "Ana"),
		matched(42, "Ana"),
		matched(58, "Bo"),
		noMatch,
	}}
	var (
		errMu  sync.Mutex
		gwErrs []*Error
	)

	sched := NewScheduler(&stubSource{}, script.recognize, nil)
	err := sched.Start(context.Background(), testSession(time.Millisecond),
		func(rec Recognition) { store.Record(rec) },
		func(e *Error) {
			errMu.Lock()
			gwErrs = append(gwErrs, e)
			errMu.Unlock()
		},
	)
	require.NoError(t, err)

	eventually(t, func() bool { return script.callCount() >= 5 }, "scheduler never ticked enough")
	sched.Stop()
	sched.Wait()

	entries := store.List()
	require.Len(t, entries, 2)
	assert.Equal(t, 42, entries[0].StudentID)
	assert.Equal(t, 58, entries[1].StudentID)

	errMu.Lock()
	defer errMu.Unlock()
	assert.Empty(t, gwErrs, "matches and no-matches must not surface errors")
}

func TestSchedulerSingleFlight(t *testing.T) {
	release := make(chan struct{})
	script := &scriptedRecognize{results: []func() (Recognition, error){
		func() (Recognition, error) {
			<-release
			return Recognition{Outcome: NoMatch}, nil
		},
	}}

	sched := NewScheduler(&stubSource{}, script.recognize, nil)
	require.NoError(t, sched.Start(context.Background(), testSession(time.Millisecond), nil, nil))

	eventually(t, func() bool { return script.callCount() == 1 }, "first recognition never started")
	// Many ticks elapse while the first call is outstanding; all of them
	// must be skipped.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, script.callCount())

	close(release)
	sched.Stop()
	sched.Wait()
}

func TestSchedulerNoFrameSkipsQuietly(t *testing.T) {
	src := &stubSource{err: ErrNoFrame}
	script := &scriptedRecognize{results: []func() (Recognition, error){noMatch}}

	sched := NewScheduler(src, script.recognize, nil)
	require.NoError(t, sched.Start(context.Background(), testSession(time.Millisecond), nil, nil))

	eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 3
	}, "source never polled")
	sched.Stop()
	sched.Wait()

	assert.Zero(t, script.callCount(), "no frame means no recognition call")
}

func TestSchedulerKeepsGoingOnNonFatalErrors(t *testing.T) {
	script := &scriptedRecognize{results: []func() (Recognition, error){
		func() (Recognition, error) {
			return Recognition{}, NewError(KindForbidden, errors.New("not your class"))
		},
		func() (Recognition, error) {
			return Recognition{}, NewError(KindUnprocessable, errors.New("no face found"))
		},
		matched(42, "Ana"),
	}}
	store := NewStore()
	var (
		errMu sync.Mutex
		kinds []ErrorKind
	)

	sched := NewScheduler(&stubSource{}, script.recognize, nil)
	require.NoError(t, sched.Start(context.Background(), testSession(time.Millisecond),
		func(rec Recognition) { store.Record(rec) },
		func(e *Error) {
			errMu.Lock()
			kinds = append(kinds, e.Kind)
			errMu.Unlock()
		},
	))

	eventually(t, func() bool { return store.Len() == 1 }, "loop did not survive non-fatal errors")
	sched.Stop()
	sched.Wait()

	errMu.Lock()
	defer errMu.Unlock()
	assert.Equal(t, []ErrorKind{KindForbidden, KindUnprocessable}, kinds[:2])
}

func TestSchedulerStopsOnUnauthenticated(t *testing.T) {
	script := &scriptedRecognize{results: []func() (Recognition, error){
		matched(42, "Ana"),
		func() (Recognition, error) {
			return Recognition{}, NewError(KindUnauthenticated, errors.New("token expired"))
		},
	}}
	store := NewStore()
	var (
		errMu sync.Mutex
		kinds []ErrorKind
	)

	sched := NewScheduler(&stubSource{}, script.recognize, nil)
	require.NoError(t, sched.Start(context.Background(), testSession(time.Millisecond),
		func(rec Recognition) { store.Record(rec) },
		func(e *Error) {
			errMu.Lock()
			kinds = append(kinds, e.Kind)
			errMu.Unlock()
		},
	))

	eventually(t, func() bool { return sched.State() == Stopped }, "scheduler never stopped itself")
	sched.Wait()
	calls := script.callCount()

	// No more recognitions after the fatal error.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, script.callCount())

	assert.Equal(t, 1, store.Len(), "entries before the failure are kept")
	errMu.Lock()
	defer errMu.Unlock()
	require.NotEmpty(t, kinds)
	assert.Equal(t, KindUnauthenticated, kinds[0])
}

func TestSchedulerStopLetsInFlightFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	script := &scriptedRecognize{results: []func() (Recognition, error){
		func() (Recognition, error) {
			close(started)
			<-release
			return Recognition{Outcome: Matched, StudentID: 42, FullName: "Ana"}, nil
		},
	}}
	store := NewStore()

	sched := NewScheduler(&stubSource{}, script.recognize, nil)
	require.NoError(t, sched.Start(context.Background(), testSession(time.Millisecond),
		func(rec Recognition) { store.Record(rec) },
		nil,
	))

	<-started
	sched.Stop()
	assert.Zero(t, store.Len(), "result must not exist before the call returns")

	close(release)
	sched.Wait()
	assert.Equal(t, 1, store.Len(), "in-flight result merges after stop")
}

func TestSchedulerLifecycle(t *testing.T) {
	script := &scriptedRecognize{results: []func() (Recognition, error){noMatch}}
	sched := NewScheduler(&stubSource{}, script.recognize, nil)

	assert.Equal(t, Idle, sched.State())

	require.NoError(t, sched.Start(context.Background(), testSession(time.Hour), nil, nil))
	assert.Equal(t, Capturing, sched.State())

	// starting again is a no-op, not a second loop
	require.NoError(t, sched.Start(context.Background(), testSession(time.Hour), nil, nil))

	sched.Stop()
	sched.Stop() // idempotent
	sched.Wait()
	assert.Equal(t, Stopped, sched.State())

	assert.ErrorIs(t, sched.Start(context.Background(), testSession(time.Hour), nil, nil), ErrSchedulerStopped)
}
