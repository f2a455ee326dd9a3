package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/providentiaww/dam-sync/internal/logging"
	"github.com/providentiaww/dam-sync/internal/worker"
)

// ErrBusy is returned when a pass of the same kind is already running.
var ErrBusy = errors.New("a pass is already running")

// QueueUpdater collects changed assets into the queue.
type QueueUpdater interface {
	UpdateQueue(ctx context.Context) (int, error)
}

// QueueDrainer processes queued jobs.
type QueueDrainer interface {
	Drain(ctx context.Context) (worker.DrainReport, error)
}

// Config holds the scheduler intervals.
type Config struct {
	// SyncInterval is how often changed assets are collected. Default: 15 minutes
	SyncInterval time.Duration
	// DrainInterval is how often the queue is drained. Default: 1 minute
	DrainInterval time.Duration
	// RunTimeout bounds one scheduled pass. Default: 5 minutes
	RunTimeout time.Duration
}

// Scheduler runs the collect and drain passes on independent tickers.
// Passes of the same kind never overlap.
type Scheduler struct {
	updater QueueUpdater
	drainer QueueDrainer
	config  Config
	log     logging.Logger

	syncMu  sync.Mutex
	drainMu sync.Mutex

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func New(updater QueueUpdater, drainer QueueDrainer, config Config, logger logging.Logger) *Scheduler {
	if config.SyncInterval <= 0 {
		config.SyncInterval = 15 * time.Minute
	}
	if config.DrainInterval <= 0 {
		config.DrainInterval = time.Minute
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		updater: updater,
		drainer: drainer,
		config:  config,
		log:     logger.With("Scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Start launches both loops. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true

	s.log.Infof("Started - sync every %v, drain every %v", s.config.SyncInterval, s.config.DrainInterval)

	s.wg.Add(2)
	go s.loop(s.config.SyncInterval, s.scheduledSync)
	go s.loop(s.config.DrainInterval, s.scheduledDrain)
}

func (s *Scheduler) loop(interval time.Duration, run func()) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			run()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) scheduledSync() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	if _, err := s.Sync(ctx); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Errorf("Error during sync: %v", err)
	}
}

func (s *Scheduler) scheduledDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	if _, err := s.Drain(ctx); err != nil && !errors.Is(err, ErrBusy) {
		s.log.Errorf("Error during drain: %v", err)
	}
}

// Sync runs one collect pass now.
func (s *Scheduler) Sync(ctx context.Context) (int, error) {
	if !s.syncMu.TryLock() {
		return 0, ErrBusy
	}
	defer s.syncMu.Unlock()
	return s.updater.UpdateQueue(ctx)
}

// Drain runs one drain pass now.
func (s *Scheduler) Drain(ctx context.Context) (worker.DrainReport, error) {
	if !s.drainMu.TryLock() {
		return worker.DrainReport{}, ErrBusy
	}
	defer s.drainMu.Unlock()
	return s.drainer.Drain(ctx)
}

// Stop ends both loops and waits for in-flight passes to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		s.log.Infof("Stopped")
	})
}
