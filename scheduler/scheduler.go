// Package scheduler provides the minimal job-scheduling primitive the
// payment core needs: run a task once after a delay, and run a task on a
// recurring hourly cadence. Both are driven from goroutines the way the
// teacher's CryptoChainMonitor drives its polling loop, but generalized
// into a reusable interface instead of being hard-wired into one monitor
// type.
package scheduler

import (
	"sync"
	"time"
)

// JobID identifies a scheduled job for logging and, where useful,
// cancellation. It carries no meaning beyond equality comparison.
type JobID string

// Scheduler is the contract the payment core depends on. It never blocks
// the caller: RunAfter and RunHourly both return immediately and run the
// task on their own goroutine.
type Scheduler interface {
	// RunAfter runs task once after d elapses.
	RunAfter(d time.Duration, task func()) JobID
	// RunHourly runs task once per hour until the Scheduler is stopped.
	RunHourly(task func()) JobID
	// Stop cancels all pending and recurring jobs. Jobs already running
	// are not interrupted.
	Stop()
}

// InProcess is a Scheduler backed by time.AfterFunc and time.Ticker. It
// has no durability: scheduled jobs are lost if the process restarts, and
// nothing in this module re-schedules Monitor checks for rows that already
// exist; such rows are expired by the hourly CleanupExpired sweep once
// they pass expires_at.
type InProcess struct {
	mu      sync.Mutex
	seq     uint64
	timers  map[JobID]*time.Timer
	tickers map[JobID]*time.Ticker
	stopped bool
}

// NewInProcess returns a ready-to-use in-process Scheduler.
func NewInProcess() *InProcess {
	return &InProcess{
		timers:  make(map[JobID]*time.Timer),
		tickers: make(map[JobID]*time.Ticker),
	}
}

func (s *InProcess) nextID(prefix string) JobID {
	s.seq++
	return JobID(prefix + "-" + time.Now().Format("150405.000000") + "-" + itoa(s.seq))
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (s *InProcess) RunAfter(d time.Duration, task func()) JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID("after")
	if s.stopped {
		return id
	}
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		task()
	})
	s.timers[id] = timer
	return id
}

func (s *InProcess) RunHourly(task func()) JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID("hourly")
	if s.stopped {
		return id
	}
	ticker := time.NewTicker(time.Hour)
	s.tickers[id] = ticker
	go func() {
		for range ticker.C {
			task()
		}
	}()
	return id
}

// Stop cancels every pending timer and recurring ticker. Safe to call
// more than once.
func (s *InProcess) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	for _, t := range s.timers {
		t.Stop()
	}
	for _, t := range s.tickers {
		t.Stop()
	}
}

var _ Scheduler = (*InProcess)(nil)
