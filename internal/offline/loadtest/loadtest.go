// Package loadtest measures cache-first read latency against a populated
// local store, the workload of a client browsing while offline.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	gosync "sync"
	"time"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
)

var (
	neighborhoods = []string{"Manhattan", "Brooklyn", "Queens"}
	cuisines      = []string{"Asian", "Pizza", "American", "Mexican"}
	reviewers     = []string{"Steve", "Morgan", "Jack", "Ann", "Chris"}
)

// TestDatabase is a populated store with a coordinator that has no
// network, so every read is served from the cache.
type TestDatabase struct {
	DB            *db.DB
	Coord         sync.Coordinator
	RestaurantIDs []int64
	Reviews       int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// offlineRemote fails every request as a transport error.
type offlineRemote struct {
	endpoints *gateway.Endpoints
}

func (r offlineRemote) Request(ctx context.Context, method, url string, body []byte, opts ...gateway.RequestOption) (json.RawMessage, error) {
	return nil, &gateway.GatewayError{Method: method, URL: url, Transport: true, Err: fmt.Errorf("offline")}
}

func (r offlineRemote) Endpoints() *gateway.Endpoints {
	return r.endpoints
}

// CreateTestDatabase opens dbPath and stores numRestaurants restaurants
// with reviewsPer reviews each. Every third restaurant is a favorite.
func CreateTestDatabase(dbPath string, numRestaurants, reviewsPer int) (*TestDatabase, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	endpoints, err := gateway.NewEndpoints("http://localhost:1337")
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	td := &TestDatabase{
		DB:            database,
		Coord:         sync.New(database, offlineRemote{endpoints: endpoints}, log.New(io.Discard, "", 0)),
		RestaurantIDs: make([]int64, 0, numRestaurants),
	}

	restaurants, reviews := generateRecords(numRestaurants, reviewsPer)
	if err := database.PutAll(context.Background(), restaurants); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to insert restaurants: %w", err)
	}
	if err := database.PutAll(context.Background(), reviews); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to insert reviews: %w", err)
	}
	for _, r := range restaurants {
		td.RestaurantIDs = append(td.RestaurantIDs, r.Key())
	}
	td.Reviews = len(reviews)

	return td, nil
}

// Close closes the test database connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// RunConcurrentReads simulates numClients clients each issuing
// readsPerClient reads: a restaurant by id, its reviews, or the favorites
// list, in rotation.
func (td *TestDatabase) RunConcurrentReads(ctx context.Context, numClients, readsPerClient int) (*LatencyStats, error) {
	if len(td.RestaurantIDs) == 0 {
		return nil, fmt.Errorf("database has no restaurants")
	}

	var wg gosync.WaitGroup
	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(clientID)))
			durations := make([]time.Duration, 0, readsPerClient)

			for j := 0; j < readsPerClient; j++ {
				id := td.RestaurantIDs[rng.Intn(len(td.RestaurantIDs))]
				start := time.Now()

				var err error
				switch j % 3 {
				case 0:
					_, err = td.Coord.FetchEntity(ctx, schema.CollectionRestaurants, id)
				case 1:
					_, err = td.Coord.FetchCollection(ctx, schema.CollectionReviews, sync.Filter{RestaurantID: id})
				case 2:
					_, err = td.Coord.FetchCollection(ctx, schema.CollectionRestaurants, sync.Filter{FavoritesOnly: true})
				}
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("client %d read %d failed: %w", clientID, j, err)
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errorCount int
	var firstErr error
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var allDurations []time.Duration
	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}
	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful reads completed: %w", firstErr)
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConcurrentWrites has numClients clients create reviews while
// offline for the given duration, then checks that every write got its
// own provisional key and its own queued operation.
func (td *TestDatabase) VerifyConcurrentWrites(ctx context.Context, numClients int, duration time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var (
		wg         gosync.WaitGroup
		mu         gosync.Mutex
		keys       = make(map[int64]bool)
		errorsChan = make(chan error, numClients)
	)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			for n := 0; ; n++ {
				if ctx.Err() != nil {
					return
				}
				rid := td.RestaurantIDs[(clientID+n)%len(td.RestaurantIDs)]
				res, err := td.Coord.Mutate(ctx, sync.OpCreate, &schema.Review{
					RestaurantID: rid,
					Name:         reviewers[clientID%len(reviewers)],
					Rating:       1 + n%5,
					Comments:     fmt.Sprintf("load %d/%d", clientID, n),
				})
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorsChan <- fmt.Errorf("client %d write %d failed: %w", clientID, n, err)
					return
				}
				if res.Status != sync.StatusUnconfirmed {
					errorsChan <- fmt.Errorf("client %d write %d: status %s while offline", clientID, n, res.Status)
					return
				}

				mu.Lock()
				dup := keys[res.Key.ID]
				keys[res.Key.ID] = true
				mu.Unlock()
				if dup {
					errorsChan <- fmt.Errorf("provisional key %d issued twice", res.Key.ID)
					return
				}
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)
	if err, ok := <-errorsChan; ok {
		return len(keys), err
	}

	pending, err := td.Coord.PendingCount(context.WithoutCancel(ctx))
	if err != nil {
		return len(keys), err
	}
	if pending != len(keys) {
		return len(keys), fmt.Errorf("%d writes but %d queued operations", len(keys), pending)
	}
	return len(keys), nil
}

func generateRecords(numRestaurants, reviewsPer int) ([]schema.Record, []schema.Record) {
	rng := rand.New(rand.NewSource(42))
	base := time.Now().Add(-30 * 24 * time.Hour)

	restaurants := make([]schema.Record, 0, numRestaurants)
	reviews := make([]schema.Record, 0, numRestaurants*reviewsPer)
	reviewID := int64(1)

	for i := 1; i <= numRestaurants; i++ {
		created := schema.NewTimestamp(base.Add(time.Duration(i) * time.Minute))
		restaurants = append(restaurants, &schema.Restaurant{
			ID:           int64(i),
			Name:         fmt.Sprintf("Restaurant %d", i),
			Neighborhood: neighborhoods[i%len(neighborhoods)],
			CuisineType:  cuisines[i%len(cuisines)],
			Photograph:   fmt.Sprintf("%d", i%10+1),
			IsFavorite:   schema.Favorite(i%3 == 0),
			CreatedAt:    created,
			UpdatedAt:    created,
		})

		for j := 0; j < reviewsPer; j++ {
			at := schema.NewTimestamp(base.Add(time.Duration(rng.Intn(30*24)) * time.Hour))
			reviews = append(reviews, &schema.Review{
				ID:           reviewID,
				RestaurantID: int64(i),
				Name:         reviewers[rng.Intn(len(reviewers))],
				Rating:       1 + rng.Intn(5),
				Comments:     fmt.Sprintf("Review %d of restaurant %d", j+1, i),
				CreatedAt:    at,
				UpdatedAt:    at,
			})
			reviewID++
		}
	}
	return restaurants, reviews
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// PrintStats writes the statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Reads:   %d\n", s.TotalQueries)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
