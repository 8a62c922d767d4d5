// Package supervisor implements the process-lifecycle shell spec.md section
// 4.9 describes: single-instance lockfile, signal-driven stop/reload, and
// worker lifecycle management. Ported from original_source/src/tail2kafka.cc's
// main loop (initSingleton/initSignal/spawn/runForeGround), with the
// original's fork-per-generation model replaced by goroutine
// start/stop/restart — Go has no equivalent to re-exec-on-SIGHUP fork, and a
// worker interface restarted in-process is the idiomatic substitute.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Worker is one runnable generation of the program: a full (re)configured
// tail2kafka or kafka2file instance. Run blocks until ctx is cancelled or
// the worker exits on its own (fatal error).
type Worker interface {
	Run(ctx context.Context) error
}

// Factory builds a fresh Worker from current on-disk configuration, called
// once at startup and again on every reload.
type Factory func() (Worker, error)

// Supervisor owns the lockfile, signal handling and worker generation
// lifecycle for one process.
type Supervisor struct {
	log    *zap.Logger
	lock   *Lockfile
	status *AtomicStatus

	newWorker Factory
}

// New acquires path as a single-instance lockfile and returns a Supervisor
// ready to Run. Acquire failing (another instance already running) is
// returned unwrapped so callers can log-and-exit per the original's
// "init singleton" failure path.
func New(lockfilePath string, newWorker Factory, log *zap.Logger) (*Supervisor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	lock, err := Acquire(lockfilePath)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		log:       log,
		lock:      lock,
		status:    NewAtomicStatus(StatusStart),
		newWorker: newWorker,
	}, nil
}

// Status returns the supervisor's current run-status, for health reporting.
func (s *Supervisor) Status() Status {
	return s.status.Get()
}

// Run starts a worker generation and blocks, restarting the worker on
// SIGHUP (reload) and exiting cleanly on SIGTERM/SIGINT (stop), until ctx is
// cancelled or a worker generation fails fatally.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.lock.Release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		s.status.Set(StatusStart)
		genCtx, cancelGen := context.WithCancel(ctx)

		worker, err := s.newWorker()
		if err != nil {
			cancelGen()
			return fmt.Errorf("supervisor: build worker: %w", err)
		}

		done := make(chan error, 1)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			done <- worker.Run(genCtx)
		}()

		var reload bool
		select {
		case <-ctx.Done():
			s.status.Set(StatusStop)
			cancelGen()
			wg.Wait()
			return ctx.Err()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.log.Info("supervisor: reload requested")
				s.status.Set(StatusReload)
				reload = true
			default:
				s.log.Info("supervisor: stop requested", zap.String("signal", sig.String()))
				s.status.Set(StatusStop)
			}
			cancelGen()
			wg.Wait()

		case err := <-done:
			cancelGen()
			wg.Wait()
			if err != nil {
				s.status.Set(StatusStop)
				return fmt.Errorf("supervisor: worker exited: %w", err)
			}
			s.status.Set(StatusStop)
			return nil
		}

		if !reload {
			s.status.Set(StatusStop)
			return nil
		}
	}
}
