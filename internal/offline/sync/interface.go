// Package sync coordinates the local store and the remote API.
package sync

import (
	"context"
	"encoding/json"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Coordinator serves reads cache-first, commits writes optimistically and
// replays writes the server has not confirmed.
type Coordinator interface {
	// FetchEntity returns one record, from the local store if present and
	// otherwise from the API (caching the answer).
	//
	// Returns an error wrapping ErrDataUnavailable when the record is not
	// cached and the API cannot be reached.
	//
	// Example:
	//   rec, err := coord.FetchEntity(ctx, schema.CollectionRestaurants, 5)
	FetchEntity(ctx context.Context, c schema.Collection, id int64) (schema.Record, error)

	// FetchCollection returns the records matching filter. A non-empty
	// local result is returned as-is; otherwise the API is queried and its
	// answer cached. Reviews come back newest first (updatedAt descending,
	// ties keep store order).
	//
	// Example:
	//   recs, err := coord.FetchCollection(ctx, schema.CollectionReviews, sync.Filter{RestaurantID: 3})
	FetchCollection(ctx context.Context, c schema.Collection, filter Filter) ([]schema.Record, error)

	// Mutate validates rec, commits it to the local store, then sends it
	// to the API. If the API call fails the write is queued and the
	// result has StatusUnconfirmed; the local change is never rolled back.
	//
	// Validation failures return *schema.ValidationError before any
	// storage or network work.
	//
	// Example:
	//   res, err := coord.Mutate(ctx, sync.OpCreate, &schema.Review{...})
	Mutate(ctx context.Context, op MutationOp, rec schema.Record) (*MutationResult, error)

	// ResolvePending replays queued writes in FIFO order. Successful
	// operations are removed and their server answers stored; failed ones
	// stay queued and hold back later operations on the same record.
	// Calling it again with nothing queued is a no-op.
	ResolvePending(ctx context.Context) (*ReplayReport, error)

	// ToggleFavorite sets a restaurant's favorite flag through Mutate.
	ToggleFavorite(ctx context.Context, restaurantID int64, favorite bool) (*MutationResult, error)

	// PendingCount returns how many writes await the server.
	PendingCount(ctx context.Context) (int, error)

	// DiscardPending drops a queued write without sending it. The local
	// record keeps its optimistic value.
	DiscardPending(ctx context.Context, id int64) error

	// Neighborhoods returns the distinct restaurant neighborhoods, sorted.
	Neighborhoods(ctx context.Context) ([]string, error)

	// Cuisines returns the distinct restaurant cuisine types, sorted.
	Cuisines(ctx context.Context) ([]string, error)
}

// Store is the local persistence the coordinator relies on. *db.DB
// implements it.
type Store interface {
	Get(ctx context.Context, c schema.Collection, id int64) (schema.Record, error)
	GetAll(ctx context.Context, c schema.Collection) ([]schema.Record, error)
	GetByIndex(ctx context.Context, c schema.Collection, index db.Index, value any) ([]schema.Record, error)
	Put(ctx context.Context, rec schema.Record) error
	PutAll(ctx context.Context, recs []schema.Record) error
	Delete(ctx context.Context, c schema.Collection, id int64) error
	Exists(ctx context.Context, c schema.Collection, id int64) (bool, error)

	EnqueuePending(ctx context.Context, op *schema.PendingOperation) error
	ListPending(ctx context.Context) ([]*schema.PendingOperation, error)
	PendingFor(ctx context.Context, c schema.Collection, key int64) ([]*schema.PendingOperation, error)
	GetPending(ctx context.Context, id int64) (*schema.PendingOperation, error)
	RemovePending(ctx context.Context, id int64) error
	MarkPendingFailed(ctx context.Context, id int64, reason string) error
	RetargetPending(ctx context.Context, c schema.Collection, oldKey, newKey int64, rewrite func(op *schema.PendingOperation) error) (int, error)
	CountPending(ctx context.Context) (int, error)
}

// Remote is the API client the coordinator relies on. *gateway.Gateway
// implements it.
type Remote interface {
	Request(ctx context.Context, method, url string, body []byte, opts ...gateway.RequestOption) (json.RawMessage, error)
	Endpoints() *gateway.Endpoints
}

// Observer receives coordinator events. Implementations must not block.
type Observer interface {
	OnMutation(ev MutationEvent)
	OnReplay(report ReplayReport)
}

var (
	_ Store  = (*db.DB)(nil)
	_ Remote = (*gateway.Gateway)(nil)
)
