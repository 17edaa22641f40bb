package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Mutate implements Coordinator.Mutate.
func (s *coordinator) Mutate(ctx context.Context, op MutationOp, rec schema.Record) (*MutationResult, error) {
	if rec == nil {
		return nil, errors.New("mutate: nil record")
	}
	if err := checkMutation(op, rec); err != nil {
		return nil, err
	}

	now := schema.NewTimestamp(s.now())
	switch op {
	case OpCreate:
		if rec.Key() == 0 {
			rec.SetKey(s.provisionalKey(ctx, rec.Collection()))
		}
		stampCreated(rec, now)
	case OpUpdate:
		stampUpdated(rec, now)
	case OpDelete:
	}
	key := schema.KeyOf(rec)

	stored := s.commitLocal(ctx, op, rec)

	if stored {
		queued, err := s.store.PendingFor(ctx, key.Collection, key.ID)
		if err != nil {
			s.logger.Printf("Failed to check queue for %s: %v", key, err)
		}
		if len(queued) > 0 {
			if op == OpDelete && s.cancelQueuedCreate(ctx, queued) {
				s.logger.Printf("Deleted %s before the server saw it; dropped %d queued operations", key, len(queued))
				return s.finishMutation(op, &MutationResult{Status: StatusConfirmed, Key: key}), nil
			}
			reason := fmt.Sprintf("queued behind %d pending operations", len(queued))
			return s.enqueue(ctx, op, rec, uuid.NewString(), reason)
		}
	}

	method, url, body, err := s.buildRequest(op, rec)
	if err != nil {
		return nil, err
	}
	idemKey := uuid.NewString()

	data, err := s.remote.Request(ctx, string(method), url, body, gateway.WithIdempotencyKey(idemKey))
	if err != nil {
		if gateway.IsGatewayError(err) {
			return s.enqueue(ctx, op, rec, idemKey, err.Error())
		}
		// 2xx with an unreadable body: the server has the write.
		s.logger.Printf("%s %s accepted but response unreadable: %v", method, url, err)
		data = nil
	}

	confirmed, err := s.reconcile(ctx, method, key, data)
	if err != nil {
		s.logger.Printf("Failed to store server copy of %s: %v", key, err)
	}
	res := &MutationResult{Status: StatusConfirmed, Key: key}
	if op != OpDelete {
		res.Record = rec
		if confirmed != nil {
			res.Record = confirmed
			res.Key = schema.KeyOf(confirmed)
		}
	}
	return s.finishMutation(op, res), nil
}

// ToggleFavorite implements Coordinator.ToggleFavorite.
func (s *coordinator) ToggleFavorite(ctx context.Context, restaurantID int64, favorite bool) (*MutationResult, error) {
	if restaurantID <= 0 {
		return nil, schema.NewValidationError("id", "must be greater than 0")
	}
	rec, err := s.FetchEntity(ctx, schema.CollectionRestaurants, restaurantID)
	if err != nil {
		return nil, err
	}
	r := rec.(*schema.Restaurant)
	r.IsFavorite = schema.Favorite(favorite)
	return s.Mutate(ctx, OpUpdate, r)
}

func checkMutation(op MutationOp, rec schema.Record) error {
	switch op {
	case OpCreate, OpUpdate:
	case OpDelete:
	default:
		return fmt.Errorf("unknown mutation %s", op)
	}

	switch rec.Collection() {
	case schema.CollectionRestaurants:
		if op != OpUpdate {
			return schema.NewValidationError("id", "restaurants cannot be %sd by clients", op)
		}
		return rec.Validate()
	case schema.CollectionReviews:
		if op != OpCreate && rec.Key() <= 0 {
			return schema.NewValidationError("id", "must be greater than 0")
		}
		if op == OpDelete {
			return nil
		}
		return rec.Validate()
	default:
		return fmt.Errorf("unknown %s", rec.Collection())
	}
}

func stampCreated(rec schema.Record, now schema.Timestamp) {
	if r, ok := rec.(*schema.Review); ok {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
	}
}

func stampUpdated(rec schema.Record, now schema.Timestamp) {
	switch r := rec.(type) {
	case *schema.Review:
		r.UpdatedAt = now
	case *schema.Restaurant:
		r.UpdatedAt = now
	}
}

// provisionalKey returns a millisecond timestamp id, unique within this
// process and not already used in the store.
func (s *coordinator) provisionalKey(ctx context.Context, c schema.Collection) int64 {
	for {
		now := s.now().UnixMilli()
		last := s.lastProvisional.Load()
		id := now
		if id <= last {
			id = last + 1
		}
		if !s.lastProvisional.CompareAndSwap(last, id) {
			continue
		}
		taken, err := s.store.Exists(ctx, c, id)
		if err != nil || !taken {
			return id
		}
	}
}

// commitLocal applies the optimistic write and reports whether the store
// accepted it.
func (s *coordinator) commitLocal(ctx context.Context, op MutationOp, rec schema.Record) bool {
	var err error
	switch op {
	case OpCreate, OpUpdate:
		err = s.store.Put(ctx, rec)
	case OpDelete:
		err = s.store.Delete(ctx, rec.Collection(), rec.Key())
	}
	if err == nil {
		return true
	}
	if errors.Is(err, db.ErrStorageUnavailable) {
		s.logger.Printf("Local store unavailable, sending %s %s straight to the network", op, schema.KeyOf(rec))
	} else {
		s.logger.Printf("Failed to commit %s %s locally: %v", op, schema.KeyOf(rec), err)
	}
	return false
}

// cancelQueuedCreate drops the queued operations of a record whose create
// never reached the server. It claims every operation first so a running
// replay cannot send one concurrently; if any is already claimed nothing
// is dropped.
func (s *coordinator) cancelQueuedCreate(ctx context.Context, queued []*schema.PendingOperation) bool {
	if queued[0].Method != schema.MethodPost {
		return false
	}

	claimed := make([]int64, 0, len(queued))
	defer func() {
		for _, id := range claimed {
			s.inflight.Delete(id)
		}
	}()
	for _, op := range queued {
		if _, busy := s.inflight.LoadOrStore(op.ID, struct{}{}); busy {
			return false
		}
		claimed = append(claimed, op.ID)
	}

	for _, op := range queued {
		if err := s.store.RemovePending(ctx, op.ID); err != nil {
			s.logger.Printf("Failed to drop pending operation %d: %v", op.ID, err)
			return false
		}
	}
	return true
}

// buildRequest maps a mutation onto the remote API.
func (s *coordinator) buildRequest(op MutationOp, rec schema.Record) (schema.Method, string, []byte, error) {
	switch r := rec.(type) {
	case *schema.Restaurant:
		return schema.MethodPut, s.endpoints.ToggleFavorite(r.ID, bool(r.IsFavorite)), nil, nil
	case *schema.Review:
		switch op {
		case OpCreate:
			// The server assigns the permanent id.
			body := *r
			body.ID = 0
			data, err := json.Marshal(&body)
			if err != nil {
				return "", "", nil, fmt.Errorf("failed to encode review: %w", err)
			}
			return schema.MethodPost, s.endpoints.CreateReview(), data, nil
		case OpUpdate:
			data, err := json.Marshal(r)
			if err != nil {
				return "", "", nil, fmt.Errorf("failed to encode review: %w", err)
			}
			return schema.MethodPut, s.endpoints.Entity(schema.CollectionReviews, r.ID), data, nil
		case OpDelete:
			return schema.MethodDelete, s.endpoints.Entity(schema.CollectionReviews, r.ID), nil, nil
		}
	}
	return "", "", nil, fmt.Errorf("cannot %s %T", op, rec)
}

// enqueue stores the failed write for replay. If the queue itself is
// unavailable the write cannot be kept and the cause is returned.
func (s *coordinator) enqueue(ctx context.Context, op MutationOp, rec schema.Record, idemKey, reason string) (*MutationResult, error) {
	method, url, body, err := s.buildRequest(op, rec)
	if err != nil {
		return nil, err
	}

	pending := &schema.PendingOperation{
		Target:         rec.Collection(),
		TargetKey:      rec.Key(),
		Method:         method,
		URL:            url,
		Body:           body,
		IdempotencyKey: idemKey,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.EnqueuePending(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to queue %s %s (%s): %w", op, schema.KeyOf(rec), reason, err)
	}

	s.logger.Printf("Queued %s %s as pending operation %d: %s", method, schema.KeyOf(rec), pending.ID, reason)

	res := &MutationResult{
		Status:  StatusUnconfirmed,
		Key:     schema.KeyOf(rec),
		Pending: pending,
	}
	if op != OpDelete {
		res.Record = rec
	}
	return s.finishMutation(op, res), nil
}

// reconcile stores the server's answer to a write on key. DELETE removes
// the local record. Otherwise the decoded server copy replaces the local
// one; when the server assigned a different id the provisional row is
// dropped and queued operations on it are pointed at the new id. A nil
// record is returned when the response carried no body.
func (s *coordinator) reconcile(ctx context.Context, method schema.Method, key schema.RecordKey, data json.RawMessage) (schema.Record, error) {
	if method == schema.MethodDelete {
		return nil, ignoreUnavailable(s.store.Delete(ctx, key.Collection, key.ID))
	}
	if len(data) == 0 {
		return nil, nil
	}

	server, err := schema.Decode(key.Collection, data)
	if err != nil {
		return nil, err
	}
	if server.Key() == 0 {
		server.SetKey(key.ID)
	}

	if server.Key() != key.ID {
		if err := ignoreUnavailable(s.store.Delete(ctx, key.Collection, key.ID)); err != nil {
			return server, err
		}
		n, err := s.store.RetargetPending(ctx, key.Collection, key.ID, server.Key(), s.retarget)
		if err != nil && !errors.Is(err, db.ErrStorageUnavailable) {
			return server, err
		}
		if n > 0 {
			s.logger.Printf("Retargeted %d pending operations from %s to id %d", n, key, server.Key())
		}
	}

	return server, ignoreUnavailable(s.store.Put(ctx, server))
}

// retarget rewrites a queued operation after its record got a new id.
func (s *coordinator) retarget(op *schema.PendingOperation) error {
	switch op.Method {
	case schema.MethodPost:
		return nil
	case schema.MethodPut, schema.MethodDelete:
		op.URL = s.endpoints.Entity(op.Target, op.TargetKey)
	}
	if len(op.Body) == 0 {
		return nil
	}
	rec, err := schema.Decode(op.Target, op.Body)
	if err != nil {
		return err
	}
	rec.SetKey(op.TargetKey)
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	op.Body = body
	return nil
}

func (s *coordinator) finishMutation(op MutationOp, res *MutationResult) *MutationResult {
	ev := MutationEvent{Op: op, Key: res.Key, Status: res.Status, At: s.now()}
	if res.Pending != nil {
		ev.PendingID = res.Pending.ID
	}
	s.notifyMutation(ev)
	return res
}

func ignoreUnavailable(err error) error {
	if errors.Is(err, db.ErrStorageUnavailable) {
		return nil
	}
	return err
}
