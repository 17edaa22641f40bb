package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// ResolvePending implements Coordinator.ResolvePending.
func (s *coordinator) ResolvePending(ctx context.Context) (*ReplayReport, error) {
	start := s.now()
	report := &ReplayReport{}

	ops, err := s.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	if len(ops) == 0 {
		return report, nil
	}

	s.logger.Printf("Replaying %d pending operations", len(ops))

	// blocked holds records with an earlier operation that did not go
	// through in this pass; their later operations must wait.
	blocked := make(map[schema.RecordKey]bool)

	for _, queued := range ops {
		if err := ctx.Err(); err != nil {
			s.finishReplay(ctx, report, start)
			return report, err
		}

		if blocked[queued.Record()] {
			report.Skipped++
			continue
		}
		if _, busy := s.inflight.LoadOrStore(queued.ID, struct{}{}); busy {
			blocked[queued.Record()] = true
			report.Skipped++
			continue
		}

		// The snapshot may be stale. Only the stored row is sent, and an
		// op no longer stored is skipped.
		op, err := s.store.GetPending(ctx, queued.ID)
		if errors.Is(err, db.ErrNotFound) {
			s.inflight.Delete(queued.ID)
			continue
		}
		if err != nil {
			s.inflight.Delete(queued.ID)
			blocked[queued.Record()] = true
			report.Skipped++
			s.logger.Printf("Failed to reload pending operation %d: %v", queued.ID, err)
			continue
		}

		key := op.Record()
		if blocked[key] {
			s.inflight.Delete(op.ID)
			report.Skipped++
			continue
		}

		newKey, err := s.replayOne(ctx, op)
		s.inflight.Delete(op.ID)

		if err != nil {
			blocked[key] = true
			report.Failed++
			report.Failures = append(report.Failures, ReplayFailure{
				PendingID: op.ID,
				Key:       key,
				Record:    key.String(),
				Error:     err.Error(),
			})
			continue
		}

		report.Resolved++
		if newKey != 0 && newKey != key.ID {
			if report.Retargets == nil {
				report.Retargets = make(map[string]int64)
			}
			report.Retargets[key.String()] = newKey
		}
	}

	s.finishReplay(ctx, report, start)
	s.logger.Printf("Replay finished: %d resolved, %d failed, %d skipped, %d remaining",
		report.Resolved, report.Failed, report.Skipped, report.Remaining)
	return report, nil
}

// replayOne sends one queued operation. On success the operation is
// removed and the server answer reconciled into the store; the returned
// key is the record's id after reconciliation. On failure the operation
// stays queued with its attempt recorded.
func (s *coordinator) replayOne(ctx context.Context, op *schema.PendingOperation) (int64, error) {
	var body []byte
	if len(op.Body) > 0 {
		body = op.Body
	}

	data, err := s.remote.Request(ctx, string(op.Method), op.URL, body,
		gateway.WithIdempotencyKey(op.IdempotencyKey))
	if err != nil && gateway.IsGatewayError(err) {
		if markErr := s.store.MarkPendingFailed(ctx, op.ID, err.Error()); markErr != nil {
			s.logger.Printf("Failed to record attempt for pending operation %d: %v", op.ID, markErr)
		}
		return 0, err
	}
	if err != nil {
		s.logger.Printf("%s %s accepted but response unreadable: %v", op.Method, op.URL, err)
		data = nil
	}

	// The server has applied the write; drop it before reconciling so a
	// storage hiccup below can never cause a second submission.
	if err := s.store.RemovePending(ctx, op.ID); err != nil {
		return 0, fmt.Errorf("failed to remove pending operation %d: %w", op.ID, err)
	}

	key := op.Record()
	server, err := s.reconcile(ctx, op.Method, key, data)
	if err != nil {
		s.logger.Printf("Failed to reconcile %s after replay: %v", key, err)
	}
	if server != nil {
		return server.Key(), nil
	}
	return key.ID, nil
}

func (s *coordinator) finishReplay(ctx context.Context, report *ReplayReport, start time.Time) {
	report.Duration = s.now().Sub(start)
	if n, err := s.store.CountPending(context.WithoutCancel(ctx)); err == nil {
		report.Remaining = n
	}
	s.notifyReplay(*report)
}
