// Package sync is the offline-first coordinator between the local store
// and the remote review API.
//
// # Reads
//
// FetchEntity and FetchCollection look in the local store first. A hit is
// returned without touching the network. On a miss the API is queried and
// the answer upserted into the store, except for records with queued
// writes: those keep their local copy, and one deleted locally stays
// gone. When neither source can answer the error wraps
// ErrDataUnavailable. An unavailable store counts as a miss.
//
// # Writes
//
// Mutate validates, commits to the store, then calls the API:
//
//	validate ──▶ local commit ──▶ API call ──┬─ ok ───▶ store server copy   (StatusConfirmed)
//	                                         └─ fail ─▶ queue pending op    (StatusUnconfirmed)
//
// Creates get a provisional id (epoch milliseconds) that is replaced by
// the server's id once confirmed. A record with queued operations gets
// new writes queued behind them, so a record's writes reach the server in
// the order they were made.
//
// # Replay
//
// ResolvePending sends queued operations oldest first. It is run at
// startup and whenever connectivity comes back; there is no timer. A
// failure leaves the operation queued and holds back later operations on
// the same record while unrelated records proceed. Operation ids being
// sent are tracked so overlapping replays never send one twice.
//
// # Usage
//
//	store, err := db.Open("offline.db")
//	if err != nil {
//	    store = db.Disabled(err)
//	}
//	defer store.Close()
//
//	api, err := gateway.New(gateway.Config{BaseURL: "http://localhost:1337"})
//	if err != nil {
//	    return err
//	}
//
//	coord := sync.New(store, api, nil)
//	res, err := coord.Mutate(ctx, sync.OpCreate, &schema.Review{
//	    RestaurantID: 3, Name: "Ann", Rating: 5, Comments: "Lovely",
//	})
//	if err == nil && res.Status == sync.StatusUnconfirmed {
//	    fmt.Println("saved offline, will sync later")
//	}
package sync
