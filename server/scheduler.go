package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/roiko/ev-server/internal"
)

const schedulerWorkers = 4

type task struct {
	name string
	run  func()
}

// Scheduler executes deferred work on a small bounded worker pool, so delayed
// jobs (post-boot configuration, smart charging recompute) stay off the
// message handlers and drain cleanly on shutdown.
type Scheduler struct {
	tasks  chan task
	logger internal.LogHandler
	wg     sync.WaitGroup
	quit   chan struct{}
	once   sync.Once
}

func NewScheduler(logger internal.LogHandler) *Scheduler {
	s := &Scheduler{
		tasks:  make(chan task, 100),
		logger: logger,
		quit:   make(chan struct{}),
	}
	for i := 0; i < schedulerWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.tasks:
			t.run()
		case <-s.quit:
			// drain what is already queued
			for {
				select {
				case t := <-s.tasks:
					t.run()
				default:
					return
				}
			}
		}
	}
}

// After submits a job to run once the delay elapsed. Jobs submitted after
// Stop are dropped.
func (s *Scheduler) After(delay time.Duration, name string, run func()) {
	submit := func() {
		select {
		case s.tasks <- task{name: name, run: run}:
		case <-s.quit:
			s.logger.Warn(fmt.Sprintf("scheduler: dropping task %s on shutdown", name))
		default:
			s.logger.Warn(fmt.Sprintf("scheduler: queue full, dropping task %s", name))
		}
	}
	if delay <= 0 {
		submit()
		return
	}
	time.AfterFunc(delay, submit)
}

func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}
