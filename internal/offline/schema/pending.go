package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Method is the HTTP verb of a queued write.
type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodDelete Method = "DELETE"
)

// Valid reports whether m is a write method the queue accepts.
func (m Method) Valid() bool {
	switch m {
	case MethodPost, MethodPut, MethodDelete:
		return true
	default:
		return false
	}
}

// PendingOperation is a write that reached the local store but not the
// server. Operations replay in ascending ID order.
type PendingOperation struct {
	ID             int64           `json:"id" yaml:"id"`
	Target         Collection      `json:"target" yaml:"target"`
	TargetKey      int64           `json:"target_key" yaml:"target_key"`
	Method         Method          `json:"method" yaml:"method"`
	URL            string          `json:"url" yaml:"url"`
	Body           json.RawMessage `json:"body,omitempty" yaml:"-"`
	IdempotencyKey string          `json:"idempotency_key" yaml:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	Attempts       int             `json:"attempts" yaml:"attempts"`
	LastError      string          `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Validate checks that the operation can be stored and replayed.
func (op *PendingOperation) Validate() error {
	if !op.Target.Valid() {
		return fmt.Errorf("invalid target %s", op.Target)
	}
	if !op.Method.Valid() {
		return fmt.Errorf("invalid method %q", op.Method)
	}
	if op.URL == "" {
		return fmt.Errorf("url is required")
	}
	if op.Method == MethodPost && len(op.Body) == 0 {
		return fmt.Errorf("POST operations require a body")
	}
	return nil
}

// RecordKey identifies one record across collections.
type RecordKey struct {
	Collection Collection
	ID         int64
}

// String formats the key as collection/id.
func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%d", k.Collection, k.ID)
}

// Record returns the key of the record the operation targets.
func (op *PendingOperation) Record() RecordKey {
	return RecordKey{Collection: op.Target, ID: op.TargetKey}
}

// KeyOf returns the RecordKey of rec.
func KeyOf(rec Record) RecordKey {
	return RecordKey{Collection: rec.Collection(), ID: rec.Key()}
}
