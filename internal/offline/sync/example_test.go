package sync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
)

// openCoordinator wires a coordinator to offline.db and a local API. A
// store that cannot be opened leaves the coordinator network-only.
func openCoordinator() (sync.Coordinator, func()) {
	store, err := db.Open("offline.db")
	if err != nil {
		store = db.Disabled(err)
	}
	api, err := gateway.New(gateway.Config{BaseURL: "http://localhost:1337"})
	if err != nil {
		log.Fatal(err)
	}
	return sync.New(store, api, nil), func() { _ = store.Close() }
}

func ExampleNew() {
	coord, done := openCoordinator()
	defer done()

	rec, err := coord.FetchEntity(context.Background(), schema.CollectionRestaurants, 1)
	if sync.IsDataUnavailable(err) {
		fmt.Println("not cached and the API is unreachable")
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rec.(*schema.Restaurant).Name)
}

// A review written while offline is kept locally and queued.
func ExampleCoordinator_Mutate() {
	coord, done := openCoordinator()
	defer done()

	res, err := coord.Mutate(context.Background(), sync.OpCreate, &schema.Review{
		RestaurantID: 3,
		Name:         "Ann",
		Rating:       5,
		Comments:     "Best bibimbap in town",
	})
	if err != nil {
		log.Fatal(err)
	}
	if res.Status == sync.StatusUnconfirmed {
		fmt.Printf("saved offline as pending operation %d\n", res.Pending.ID)
	}
}

func ExampleCoordinator_ResolvePending() {
	coord, done := openCoordinator()
	defer done()

	report, err := coord.ResolvePending(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%d resolved, %d still pending\n", report.Resolved, report.Remaining)
}
