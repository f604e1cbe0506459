package scheduler

import (
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"propwatch/server/internal/database"
)

// MaintenanceStore is the slice of the persistence layer the scheduler
// drives: price history compaction and district backfill.
type MaintenanceStore interface {
	CompactPriceHistory() (int64, error)
	UpdateMissingDistricts(resolver database.DistrictResolver) (int64, error)
}

// Scheduler runs daily storage maintenance at a configured UTC hour.
type Scheduler struct {
	store    MaintenanceStore
	resolver database.DistrictResolver
	logger   *logrus.Logger
	hourUTC  int
	stopChan chan struct{}
	wg       sync.WaitGroup
	jobMutex sync.Mutex
	lastRun  string
}

// NewScheduler creates a scheduler compacting at hourUTC each day. A nil
// resolver disables district backfill.
func NewScheduler(store MaintenanceStore, resolver database.DistrictResolver, hourUTC int, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	return &Scheduler{
		store:    store,
		resolver: resolver,
		logger:   logger,
		hourUTC:  hourUTC,
		stopChan: make(chan struct{}),
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.maybeRun(t.UTC())
		}
	}
}

// maybeRun fires the maintenance pass once per UTC day, in the first minute
// of the configured hour. The last-run guard absorbs ticker jitter.
func (s *Scheduler) maybeRun(t time.Time) {
	if t.Hour() != s.hourUTC || t.Minute() != 0 {
		return
	}
	day := t.Format("2006-01-02")

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()
	if s.lastRun == day {
		return
	}
	s.lastRun = day

	s.RunMaintenance()
}

// RunMaintenance executes one maintenance pass immediately.
func (s *Scheduler) RunMaintenance() {
	s.logger.Info("Starting storage maintenance")

	deleted, err := s.store.CompactPriceHistory()
	if err != nil {
		s.logger.WithError(err).Error("Price history compaction failed")
	} else {
		s.logger.WithField("deleted", deleted).Info("Price history compaction completed")
	}

	if s.resolver != nil {
		updated, err := s.store.UpdateMissingDistricts(s.resolver)
		if err != nil {
			s.logger.WithError(err).Error("District backfill failed")
		} else {
			s.logger.WithField("updated", updated).Info("District backfill completed")
		}
	}
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
