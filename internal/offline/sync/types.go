package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

// MutationOp is the kind of write passed to Mutate.
type MutationOp int

const (
	OpCreate MutationOp = iota + 1
	OpUpdate
	OpDelete
)

func (op MutationOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Status tells whether the server has acknowledged a write.
type Status int

const (
	// StatusConfirmed means the server accepted the write and the local
	// record holds the server's copy.
	StatusConfirmed Status = iota + 1

	// StatusUnconfirmed means the write is stored locally and queued for
	// replay. It is not an error.
	StatusUnconfirmed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusUnconfirmed:
		return "unconfirmed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MutationResult is the outcome of Mutate.
type MutationResult struct {
	Status Status

	// Record is the server copy when confirmed, the local copy when
	// unconfirmed, and nil after a delete.
	Record schema.Record

	// Key identifies the written record. For a confirmed create it is the
	// server-assigned key.
	Key schema.RecordKey

	// Pending is the queued operation when Status is StatusUnconfirmed.
	Pending *schema.PendingOperation
}

// MutationEvent is reported to the Observer after every Mutate.
type MutationEvent struct {
	Op        MutationOp
	Key       schema.RecordKey
	Status    Status
	PendingID int64
	At        time.Time
}

// Filter narrows FetchCollection.
//
// RestaurantID applies to reviews. FavoritesOnly, Cuisine and
// Neighborhood apply to restaurants; Cuisine and Neighborhood treat "" and
// "all" as no filter.
type Filter struct {
	RestaurantID  int64
	FavoritesOnly bool
	Cuisine       string
	Neighborhood  string
}

func (f Filter) validate(c schema.Collection) error {
	switch c {
	case schema.CollectionRestaurants:
		if f.RestaurantID != 0 {
			return fmt.Errorf("restaurant_id filter does not apply to %s", c)
		}
	case schema.CollectionReviews:
		if f.FavoritesOnly || !isAll(f.Cuisine) || !isAll(f.Neighborhood) {
			return fmt.Errorf("restaurant filters do not apply to %s", c)
		}
		if f.RestaurantID < 0 {
			return fmt.Errorf("invalid restaurant_id %d", f.RestaurantID)
		}
	default:
		return fmt.Errorf("unknown %s", c)
	}
	return nil
}

// Match reports whether rec passes the filter.
func (f Filter) Match(rec schema.Record) bool {
	switch r := rec.(type) {
	case *schema.Restaurant:
		if f.FavoritesOnly && !bool(r.IsFavorite) {
			return false
		}
		if !isAll(f.Cuisine) && r.CuisineType != f.Cuisine {
			return false
		}
		if !isAll(f.Neighborhood) && r.Neighborhood != f.Neighborhood {
			return false
		}
		return true
	case *schema.Review:
		return f.RestaurantID == 0 || r.RestaurantID == f.RestaurantID
	default:
		return false
	}
}

func isAll(v string) bool {
	return v == "" || strings.EqualFold(v, "all")
}

// ReplayFailure describes one operation that stayed queued.
type ReplayFailure struct {
	PendingID int64            `json:"pending_id"`
	Key       schema.RecordKey `json:"-"`
	Record    string           `json:"record"`
	Error     string           `json:"error"`
}

// ReplayReport summarizes one ResolvePending pass.
type ReplayReport struct {
	// Resolved operations were accepted by the server and removed.
	Resolved int `json:"resolved"`
	// Failed operations were sent and rejected or unreachable.
	Failed int `json:"failed"`
	// Skipped operations were not sent: another pass owned them, or an
	// earlier operation on the same record failed.
	Skipped int `json:"skipped"`
	// Remaining is the queue length after the pass.
	Remaining int              `json:"remaining"`
	Duration  time.Duration    `json:"duration"`
	Failures  []ReplayFailure  `json:"failures,omitempty"`
	Retargets map[string]int64 `json:"retargets,omitempty"`
}
