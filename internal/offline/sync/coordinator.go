package sync

import (
	"context"
	"errors"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// coordinator implements the Coordinator interface.
type coordinator struct {
	store     Store
	remote    Remote
	endpoints *gateway.Endpoints
	logger    *log.Logger
	observer  Observer
	now       func() time.Time

	// inflight holds the ids of pending operations currently being sent.
	inflight *xsync.MapOf[int64, struct{}]

	// lastProvisional is the last provisional id handed out.
	lastProvisional atomic.Int64
}

// Option configures a Coordinator.
type Option func(*coordinator)

// WithObserver registers an observer for mutation and replay events.
func WithObserver(o Observer) Option {
	return func(c *coordinator) { c.observer = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *coordinator) { c.now = now }
}

// New creates a Coordinator over a local store and the remote API.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	store, err := db.Open("offline.db")
//	if err != nil {
//	    store = db.Disabled(err)
//	}
//	api, err := gateway.New(gateway.Config{BaseURL: "http://localhost:1337"})
//	if err != nil {
//	    return err
//	}
//	coord := sync.New(store, api, nil)
func New(store Store, remote Remote, logger *log.Logger, opts ...Option) Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	c := &coordinator{
		store:     store,
		remote:    remote,
		endpoints: remote.Endpoints(),
		logger:    logger,
		now:       time.Now,
		inflight:  xsync.NewMapOf[int64, struct{}](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// cache upserts records, logging instead of failing: a read that reached
// the network is still a success when the store cannot keep the answer.
func (s *coordinator) cache(ctx context.Context, recs ...schema.Record) {
	if len(recs) == 0 {
		return
	}
	if err := s.store.PutAll(ctx, recs); err != nil {
		if errors.Is(err, db.ErrStorageUnavailable) {
			return
		}
		s.logger.Printf("Failed to cache %d %s: %v", len(recs), recs[0].Collection(), err)
	}
}

// PendingCount implements Coordinator.PendingCount.
func (s *coordinator) PendingCount(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// DiscardPending implements Coordinator.DiscardPending.
func (s *coordinator) DiscardPending(ctx context.Context, id int64) error {
	if _, busy := s.inflight.LoadOrStore(id, struct{}{}); busy {
		return errors.New("operation is being replayed")
	}
	defer s.inflight.Delete(id)

	if err := s.store.RemovePending(ctx, id); err != nil {
		return err
	}
	s.logger.Printf("Discarded pending operation %d", id)
	return nil
}

func (s *coordinator) notifyMutation(ev MutationEvent) {
	if s.observer != nil {
		s.observer.OnMutation(ev)
	}
}

func (s *coordinator) notifyReplay(report ReplayReport) {
	if s.observer != nil {
		s.observer.OnReplay(report)
	}
}
