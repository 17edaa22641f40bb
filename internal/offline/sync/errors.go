package sync

import (
	"errors"
	"net/http"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// ErrDataUnavailable is returned by reads when the record is neither
// cached nor fetchable. The gateway error is wrapped alongside it.
var ErrDataUnavailable = errors.New("data unavailable")

// IsDataUnavailable reports whether err is a failed read.
func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrDataUnavailable)
}

// IsNotFound reports whether a read failed because the record does not
// exist: the API answered 404, or the record is deleted locally with the
// delete still queued.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound) || gateway.StatusOf(err) == http.StatusNotFound
}

// IsRetryable reports whether the operation that returned err may succeed
// later without changes: transport failures, 5xx and 429 replies, and an
// unavailable local store.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, db.ErrStorageUnavailable) || gateway.IsTransport(err) {
		return true
	}
	status := gateway.StatusOf(err)
	return status >= 500 || status == http.StatusTooManyRequests
}

// IsUserActionRequired reports whether err can only be fixed by changing
// the input.
func IsUserActionRequired(err error) bool {
	return schema.IsValidationError(err)
}
