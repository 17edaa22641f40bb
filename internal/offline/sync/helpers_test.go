package sync

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"maps"
	"net/http"
	"net/url"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// fakeAPI is an in-process stand-in for the review API.
type fakeAPI struct {
	mu          gosync.Mutex
	endpoints   *gateway.Endpoints
	offline     bool
	failPaths   map[string]int
	restaurants map[int64]*schema.Restaurant
	reviews     map[int64]*schema.Review
	nextReview  int64
	calls       []string
	idemKeys    map[string]int
	// block, when set, is received from before answering.
	block chan struct{}
	// holdFirst, when set, holds only the next request until it is
	// closed. held is closed once that request is waiting.
	holdFirst chan struct{}
	held      chan struct{}
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	e, err := gateway.NewEndpoints("http://api.test:1337")
	if err != nil {
		t.Fatal(err)
	}
	return &fakeAPI{
		endpoints:   e,
		failPaths:   make(map[string]int),
		restaurants: make(map[int64]*schema.Restaurant),
		reviews:     make(map[int64]*schema.Review),
		nextReview:  100,
		idemKeys:    make(map[string]int),
	}
}

func (f *fakeAPI) Endpoints() *gateway.Endpoints { return f.endpoints }

func (f *fakeAPI) setOffline(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = v
}

// holdNext arranges for the next request to wait until release is
// called. The returned channel is closed once it is waiting.
func (f *fakeAPI) holdNext() (held <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdFirst = make(chan struct{})
	f.held = make(chan struct{})
	hold := f.holdFirst
	return f.held, func() { close(hold) }
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) Request(ctx context.Context, method, rawURL string, body []byte, opts ...gateway.RequestOption) (json.RawMessage, error) {
	req, _ := http.NewRequest(method, rawURL, nil)
	for _, opt := range opts {
		opt(req)
	}

	f.mu.Lock()
	block := f.block
	hold, held := f.holdFirst, f.held
	f.holdFirst = nil
	f.mu.Unlock()
	if hold != nil {
		close(held)
		<-hold
	}
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	f.calls = append(f.calls, method+" "+u.RequestURI())

	if f.offline {
		return nil, &gateway.GatewayError{Method: method, URL: rawURL, Transport: true, Err: io.ErrUnexpectedEOF}
	}
	if status, ok := f.failPaths[method+" "+u.Path]; ok {
		return nil, &gateway.GatewayError{Method: method, URL: rawURL, Status: status, StatusText: http.StatusText(status)}
	}
	if k := req.Header.Get("Idempotency-Key"); k != "" {
		f.idemKeys[k]++
	}

	notFound := &gateway.GatewayError{Method: method, URL: rawURL, Status: 404, StatusText: "Not Found"}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	q := u.Query()

	switch {
	case parts[0] == "restaurants" && len(parts) == 1 && method == http.MethodGet:
		var out []*schema.Restaurant
		for _, id := range slices.Sorted(maps.Keys(f.restaurants)) {
			r := f.restaurants[id]
			if q.Get("is_favorite") == "true" && !bool(r.IsFavorite) {
				continue
			}
			out = append(out, r)
		}
		return json.Marshal(out)

	case parts[0] == "restaurants" && len(parts) == 2:
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		r, ok := f.restaurants[id]
		if !ok {
			return nil, notFound
		}
		if method == http.MethodPut {
			fav, _ := strconv.ParseBool(q.Get("is_favorite"))
			r.IsFavorite = schema.Favorite(fav)
			r.UpdatedAt = schema.NewTimestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
		}
		return json.Marshal(r)

	case parts[0] == "reviews" && len(parts) == 1 && method == http.MethodGet:
		var out []*schema.Review
		for _, id := range slices.Sorted(maps.Keys(f.reviews)) {
			r := f.reviews[id]
			if rid := q.Get("restaurant_id"); rid != "" && strconv.FormatInt(r.RestaurantID, 10) != rid {
				continue
			}
			out = append(out, r)
		}
		return json.Marshal(out)

	case parts[0] == "reviews" && len(parts) == 1 && method == http.MethodPost:
		var r schema.Review
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, &gateway.GatewayError{Method: method, URL: rawURL, Status: 400, StatusText: "Bad Request"}
		}
		f.nextReview++
		r.ID = f.nextReview
		f.reviews[r.ID] = &r
		return json.Marshal(&r)

	case parts[0] == "reviews" && len(parts) == 2:
		id, _ := strconv.ParseInt(parts[1], 10, 64)
		r, ok := f.reviews[id]
		if !ok {
			return nil, notFound
		}
		switch method {
		case http.MethodGet:
			return json.Marshal(r)
		case http.MethodPut:
			var upd schema.Review
			if err := json.Unmarshal(body, &upd); err != nil {
				return nil, &gateway.GatewayError{Method: method, URL: rawURL, Status: 400, StatusText: "Bad Request"}
			}
			upd.ID = id
			f.reviews[id] = &upd
			return json.Marshal(&upd)
		case http.MethodDelete:
			delete(f.reviews, id)
			return json.Marshal(r)
		}
	}
	return nil, notFound
}

func setupCoordinator(t *testing.T, opts ...Option) (Coordinator, *db.DB, *fakeAPI) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "offline.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := newFakeAPI(t)
	coord := New(store, api, log.New(io.Discard, "", 0), opts...)
	return coord, store, api
}

func validReview(restaurantID int64) *schema.Review {
	return &schema.Review{
		RestaurantID: restaurantID,
		Name:         "Ann",
		Rating:       5,
		Comments:     "Lovely noodles",
	}
}

// recordingObserver collects events.
type recordingObserver struct {
	mu        gosync.Mutex
	mutations []MutationEvent
	replays   []ReplayReport
}

func (o *recordingObserver) OnMutation(ev MutationEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mutations = append(o.mutations, ev)
}

func (o *recordingObserver) OnReplay(r ReplayReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.replays = append(o.replays, r)
}
