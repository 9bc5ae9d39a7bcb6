package attendance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// State is the scheduler lifecycle. Transitions happen only through Start
// and Stop; a stopped scheduler is done for good (one scheduler per
// session, like one interval per modal open).
type State int

const (
	Idle State = iota
	Capturing
	Stopped
)

func (s State) String() string {
	switch s {
	case Capturing:
		return "capturing"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// ErrSchedulerStopped is returned by Start on a scheduler that already ran.
var ErrSchedulerStopped = errors.New("scheduler already stopped")

// RecognizeFunc submits one frame for recognition.
type RecognizeFunc func(ctx context.Context, frame Frame, classID int, date string) (Recognition, error)

// Scheduler drives the fixed-period capture-and-submit loop of one
// session.
//
// Invariants:
//   - single-flight: at most one recognition request outstanding; ticks
//     that would overlap an outstanding request are skipped whole (no
//     frame is captured either);
//   - a failed cycle never stops the loop, except an unauthenticated
//     failure, which stops scheduling after reporting it;
//   - Stop halts future ticks but lets an in-flight call finish; its
//     result still reaches the callbacks.
type Scheduler struct {
	source    FrameSource
	recognize RecognizeFunc
	logger    core.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	wg       sync.WaitGroup // tick loop + in-flight recognition
	inFlight atomic.Bool
}

func NewScheduler(source FrameSource, recognize RecognizeFunc, logger core.Logger) *Scheduler {
	return &Scheduler{
		source:    source,
		recognize: recognize,
		logger:    logger,
	}
}

// Start begins ticking every sess.Interval. Idempotent: starting a
// capturing scheduler is a no-op. ctx bounds the whole run (process
// shutdown); Stop only cancels future ticks, never ctx.
func (s *Scheduler) Start(ctx context.Context, sess *Session, onResult func(Recognition), onError func(*Error)) error {
	if onResult == nil {
		onResult = func(Recognition) {}
	}
	if onError == nil {
		onError = func(*Error) {}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Capturing:
		return nil
	case Stopped:
		return ErrSchedulerStopped
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = Capturing

	s.wg.Add(1)
	go s.run(loopCtx, ctx, sess, onResult, onError)
	return nil
}

// Stop halts future ticks. Idempotent; safe to call from callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Capturing {
		s.cancel()
	}
	s.state = Stopped
}

// Wait blocks until the loop has exited and any in-flight recognition has
// completed and delivered its result.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// run fires ticks until loopCtx is cancelled. callCtx deliberately
// outlives loopCtx: in-flight recognitions are not aborted on Stop.
func (s *Scheduler) run(loopCtx, callCtx context.Context, sess *Session, onResult func(Recognition), onError func(*Error)) {
	defer s.wg.Done()

	interval := sess.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-time.After(interval):
		}
		s.tick(callCtx, sess, onResult, onError)
	}
}

func (s *Scheduler) tick(ctx context.Context, sess *Session, onResult func(Recognition), onError func(*Error)) {
	// Previous recognition still outstanding: skip the whole tick.
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}

	frame, err := s.source.Capture(ctx)
	if err != nil {
		s.inFlight.Store(false)
		if !errors.Is(err, ErrNoFrame) && s.logger != nil {
			s.logger.Debug(fmt.Sprintf("frame capture skipped: %v", err))
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)

		rec, err := s.recognize(ctx, frame, sess.ClassID, sess.Date)
		if err != nil {
			var gwErr *Error
			if !errors.As(err, &gwErr) {
				gwErr = NewError(KindUnavailable, err)
			}
			onError(gwErr)
			if gwErr.Kind == KindUnauthenticated {
				// Session is unusable without a fresh credential.
				s.Stop()
			}
			return
		}
		if rec.Outcome == Matched {
			onResult(rec)
		}
	}()
}
