package dispatch

import "sync"

// daqLifecycle is the subset of daq.Worker's surface the dispatch
// core drives. Abstracted so a session can be exercised under test
// without a real listener/shared-memory/epoll stack.
type daqLifecycle interface {
	Initialize() error
	Run() error
	Stop()
	Cleanup() error
}

// daqSession is the mutex/boolean/thread-handle state machine of
// spec.md §4.9: at most one worker goroutine alive at a time, its
// handle joined before any reassignment.
type daqSession struct {
	worker daqLifecycle

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func newDAQSession(worker daqLifecycle) *daqSession {
	return &daqSession{worker: worker}
}

// start implements START_DAQ: fails if already running, otherwise
// initializes and launches the worker's run loop in a goroutine that
// clears running on return. Invoked under the dispatcher's mutex;
// Initialize() runs inside the lock (it is expected to be fast --
// resource acquisition, not the run loop itself) but the worker's
// Run() is launched in a goroutine so the lock is never held across
// its lifetime.
//
// The returned error is non-nil only when Initialize() itself failed;
// a plain "already running" failure returns (false, nil). Callers use
// the distinction to tell an ordinary DispatchError (CALLBACK
// success=0) apart from a hardware InitError, which spec.md treats as
// fatal outside --no-fpga.
func (s *daqSession) start(onRunExit func(error)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false, nil
	}
	s.joinPrevious()

	if err := s.worker.Initialize(); err != nil {
		return false, err
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	go func() {
		defer close(done)
		err := s.worker.Run()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		if onRunExit != nil {
			onRunExit(err)
		}
	}()
	return true, nil
}

// stop implements STOP_DAQ: fails if not running, otherwise signals
// the worker to stop and joins its goroutine before returning.
func (s *daqSession) stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	worker, done := s.worker, s.done
	s.mu.Unlock()

	worker.Stop()
	<-done
	return true
}

// reset implements RESET_DAQ: unconditionally stops (if running),
// cleans up, reinitializes, and relaunches -- used to recover a
// worker stuck in a bad hardware state. The returned error carries the
// same "Initialize() failed" meaning as start's.
func (s *daqSession) reset(onRunExit func(error)) (bool, error) {
	s.mu.Lock()
	running, worker, done := s.running, s.worker, s.done
	s.mu.Unlock()

	if running {
		worker.Stop()
		<-done
	}
	if err := worker.Cleanup(); err != nil {
		return false, nil
	}

	return s.start(onRunExit)
}

// joinPrevious blocks until any prior worker goroutine has fully
// exited. Safe to call while holding mu: the goroutine it waits on
// only takes mu briefly to flip running false, well before it closes
// done, and never reacquires it afterward.
func (s *daqSession) joinPrevious() {
	if s.done == nil {
		return
	}
	<-s.done
}
