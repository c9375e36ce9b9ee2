package archive

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/recovery-orchestrator/internal/events"
	"github.com/NikhilSetiya/recovery-orchestrator/pkg/logging"
)

// Sink archives every published record and periodically drops records that
// have outlived the retention period
type Sink struct {
	repo          *Repository
	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time
	logger        *logging.Logger
}

// NewSink creates a sink. A zero retention keeps records forever.
func NewSink(repo *Repository, retention time.Duration) *Sink {
	return &Sink{
		repo:          repo,
		retention:     retention,
		pruneInterval: time.Hour,
		now:           time.Now,
		logger:        logging.GetLogger(),
	}
}

// Run consumes sub until it closes or ctx is done
func (s *Sink) Run(ctx context.Context, sub *events.Subscription) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.retention > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pruneLoop(ctx)
		}()
	}

	events.Consume(ctx, sub, s.repo.Save)

	cancel()
	wg.Wait()
}

func (s *Sink) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx); err != nil {
				s.logger.Warn("Archive retention sweep failed", "error", err.Error())
			}
		}
	}
}

// Prune deletes archived records older than the retention period
func (s *Sink) Prune(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	deleted, err := s.repo.DeleteBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("Archive retention sweep completed", "deleted", deleted)
	}
	return deleted, nil
}
