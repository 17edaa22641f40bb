package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "offline.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleRestaurant(id int64) *schema.Restaurant {
	return &schema.Restaurant{
		ID:           id,
		Name:         "Mission Chinese Food",
		Neighborhood: "Manhattan",
		Photograph:   "1",
		Address:      "171 E Broadway, New York, NY 10002",
		LatLng:       schema.LatLng{Lat: 40.713829, Lng: -73.989667},
		CuisineType:  "Asian",
		OperatingHours: map[string]string{
			"Monday":  "5:30 pm - 11:00 pm",
			"Tuesday": "5:30 pm - 12:00 am",
		},
		CreatedAt: schema.NewTimestamp(time.Date(2018, 6, 1, 10, 0, 0, 0, time.UTC)),
		UpdatedAt: schema.NewTimestamp(time.Date(2018, 6, 2, 10, 0, 0, 0, time.UTC)),
	}
}

func sampleReview(id, restaurantID int64, updated time.Time) *schema.Review {
	return &schema.Review{
		ID:           id,
		RestaurantID: restaurantID,
		Name:         "Steve",
		Rating:       4,
		Comments:     "Mission Chinese Food has grown up from its scrappy Orchard Street days",
		CreatedAt:    schema.NewTimestamp(updated.Add(-time.Hour)),
		UpdatedAt:    schema.NewTimestamp(updated),
	}
}

func TestRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	want := []schema.Record{
		sampleRestaurant(1),
		sampleReview(10, 1, time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC)),
	}
	for _, rec := range want {
		if err := db.Put(ctx, rec); err != nil {
			t.Fatalf("Put(%s/%d) error = %v", rec.Collection(), rec.Key(), err)
		}
	}

	for _, rec := range want {
		got, err := db.Get(ctx, rec.Collection(), rec.Key())
		if err != nil {
			t.Fatalf("Get(%s/%d) error = %v", rec.Collection(), rec.Key(), err)
		}
		if diff := cmp.Diff(rec, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestPutReplacesByKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	r := sampleRestaurant(2)
	if err := db.Put(ctx, r); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	r.IsFavorite = true
	r.Name = "Renamed"
	if err := db.Put(ctx, r); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	all, err := db.GetAll(ctx, schema.CollectionRestaurants)
	if err != nil {
		t.Fatalf("GetAll() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetAll() returned %d records, want 1", len(all))
	}
	if got := all[0].(*schema.Restaurant); got.Name != "Renamed" || !bool(got.IsFavorite) {
		t.Errorf("stored restaurant = %+v", got)
	}
}

func TestGetNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Get(context.Background(), schema.CollectionReviews, 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGetByIndex(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC)

	fav := sampleRestaurant(1)
	fav.IsFavorite = true
	recs := []schema.Record{
		fav,
		sampleRestaurant(2),
		sampleReview(10, 1, now),
		sampleReview(11, 2, now),
		sampleReview(12, 1, now),
	}
	if err := db.PutAll(ctx, recs); err != nil {
		t.Fatalf("PutAll() error = %v", err)
	}

	reviews, err := db.GetByIndex(ctx, schema.CollectionReviews, IndexRestaurantID, int64(1))
	if err != nil {
		t.Fatalf("GetByIndex(restaurant_id) error = %v", err)
	}
	var ids []int64
	for _, r := range reviews {
		ids = append(ids, r.Key())
	}
	if diff := cmp.Diff([]int64{10, 12}, ids); diff != "" {
		t.Errorf("reviews for restaurant 1 (-want +got):\n%s", diff)
	}

	favs, err := db.GetByIndex(ctx, schema.CollectionRestaurants, IndexFavorite, true)
	if err != nil {
		t.Fatalf("GetByIndex(is_favorite) error = %v", err)
	}
	if len(favs) != 1 || favs[0].Key() != 1 {
		t.Errorf("favorites = %v, want restaurant 1", favs)
	}
}

func TestGetByIndexRejectsMismatch(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		c     schema.Collection
		index Index
		value any
	}{
		{"favorite on reviews", schema.CollectionReviews, IndexFavorite, true},
		{"restaurant on restaurants", schema.CollectionRestaurants, IndexRestaurantID, int64(1)},
		{"wrong value type", schema.CollectionReviews, IndexRestaurantID, "1"},
		{"unknown index", schema.CollectionReviews, Index(42), int64(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.GetByIndex(ctx, tt.c, tt.index, tt.value); err == nil {
				t.Error("GetByIndex() succeeded, want error")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	rv := sampleReview(7, 1, time.Now())
	if err := db.Put(ctx, rv); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := db.Delete(ctx, schema.CollectionReviews, 7); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := db.Exists(ctx, schema.CollectionReviews, 7); ok {
		t.Error("review still exists after Delete()")
	}
	if err := db.Delete(ctx, schema.CollectionReviews, 7); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestPutRejectsZeroKey(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Put(context.Background(), &schema.Review{RestaurantID: 1}); err == nil {
		t.Error("Put() without id succeeded")
	}
}

func TestMigrationsAreAdditive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	ctx := context.Background()

	old, err := OpenVersion(path, 2)
	if err != nil {
		t.Fatalf("OpenVersion(2) error = %v", err)
	}
	rv := sampleReview(3, 1, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := old.Put(ctx, rv); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if v, _ := old.Version(ctx); v != 2 {
		t.Errorf("Version() = %d, want 2", v)
	}
	if err := old.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatalf("Open() pass %d error = %v", i, err)
		}
		if v, _ := db.Version(ctx); v != SchemaVersion {
			t.Errorf("Version() = %d, want %d", v, SchemaVersion)
		}
		got, err := db.Get(ctx, schema.CollectionReviews, 3)
		if err != nil {
			t.Fatalf("Get() after upgrade error = %v", err)
		}
		if diff := cmp.Diff(schema.Record(rv), got); diff != "" {
			t.Errorf("review changed across upgrade (-want +got):\n%s", diff)
		}
		if _, err := db.CountPending(ctx); err != nil {
			t.Errorf("pending queue missing after upgrade: %v", err)
		}
		_ = db.Close()
	}
}

func TestOpenVersionBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offline.db")
	if _, err := OpenVersion(path, 0); err == nil {
		t.Error("OpenVersion(0) succeeded")
	}
	if _, err := OpenVersion(path, SchemaVersion+1); err == nil {
		t.Error("OpenVersion(max+1) succeeded")
	}
}

func TestDisabledStore(t *testing.T) {
	db := Disabled(errors.New("disk gone"))
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["Get"] = db.Get(ctx, schema.CollectionRestaurants, 1)
	_, checks["GetAll"] = db.GetAll(ctx, schema.CollectionRestaurants)
	_, checks["GetByIndex"] = db.GetByIndex(ctx, schema.CollectionReviews, IndexRestaurantID, int64(1))
	checks["Put"] = db.Put(ctx, sampleRestaurant(1))
	checks["Delete"] = db.Delete(ctx, schema.CollectionRestaurants, 1)
	checks["EnqueuePending"] = db.EnqueuePending(ctx, &schema.PendingOperation{})
	_, checks["ListPending"] = db.ListPending(ctx)
	checks["RemovePending"] = db.RemovePending(ctx, 1)
	_, checks["GetAsset"] = db.GetAsset(ctx, "v1", "/")

	for name, err := range checks {
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Errorf("%s() error = %v, want ErrStorageUnavailable", name, err)
		}
	}
	if db.Available() {
		t.Error("Available() = true for disabled store")
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPendingQueueFIFO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	body, _ := json.Marshal(map[string]any{"restaurant_id": 1, "name": "Ann", "rating": 5, "comments": "ok"})
	ops := []*schema.PendingOperation{
		{Target: schema.CollectionReviews, TargetKey: 100, Method: schema.MethodPost, URL: "http://api/reviews", Body: body},
		{Target: schema.CollectionRestaurants, TargetKey: 3, Method: schema.MethodPut, URL: "http://api/restaurants/3/?is_favorite=true"},
		{Target: schema.CollectionReviews, TargetKey: 100, Method: schema.MethodDelete, URL: "http://api/reviews/100"},
	}
	for _, op := range ops {
		if err := db.EnqueuePending(ctx, op); err != nil {
			t.Fatalf("EnqueuePending() error = %v", err)
		}
	}
	if !(ops[0].ID < ops[1].ID && ops[1].ID < ops[2].ID) {
		t.Fatalf("ids not increasing: %d %d %d", ops[0].ID, ops[1].ID, ops[2].ID)
	}

	got, err := db.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListPending() = %d ops, want 3", len(got))
	}
	for i := range ops {
		if got[i].ID != ops[i].ID || got[i].Method != ops[i].Method || got[i].URL != ops[i].URL {
			t.Errorf("op %d = %+v, want %+v", i, got[i], ops[i])
		}
	}
	if string(got[0].Body) != string(body) {
		t.Errorf("body = %s, want %s", got[0].Body, body)
	}

	for100, err := db.PendingFor(ctx, schema.CollectionReviews, 100)
	if err != nil || len(for100) != 2 {
		t.Fatalf("PendingFor() = %v, %v; want 2 ops", for100, err)
	}

	if err := db.RemovePending(ctx, ops[0].ID); err != nil {
		t.Fatalf("RemovePending() error = %v", err)
	}
	if err := db.RemovePending(ctx, ops[0].ID); err != nil {
		t.Errorf("second RemovePending() error = %v", err)
	}
	if n, _ := db.CountPending(ctx); n != 2 {
		t.Errorf("CountPending() = %d, want 2", n)
	}
}

func TestEnqueuePendingValidates(t *testing.T) {
	db := setupTestDB(t)
	err := db.EnqueuePending(context.Background(), &schema.PendingOperation{
		Target: schema.CollectionReviews, TargetKey: 1, Method: schema.MethodPost, URL: "http://api/reviews",
	})
	if err == nil {
		t.Error("EnqueuePending() accepted POST without body")
	}
}

func TestMarkFailedAndRetarget(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	op := &schema.PendingOperation{
		Target: schema.CollectionReviews, TargetKey: 1700000000000,
		Method: schema.MethodPut, URL: "http://api/reviews/1700000000000", Body: json.RawMessage(`{}`),
	}
	if err := db.EnqueuePending(ctx, op); err != nil {
		t.Fatalf("EnqueuePending() error = %v", err)
	}
	if err := db.MarkPendingFailed(ctx, op.ID, "503 Service Unavailable"); err != nil {
		t.Fatalf("MarkPendingFailed() error = %v", err)
	}

	n, err := db.RetargetPending(ctx, schema.CollectionReviews, 1700000000000, 31, func(op *schema.PendingOperation) error {
		op.URL = "http://api/reviews/31"
		op.Body = json.RawMessage(`{"id":31}`)
		return nil
	})
	if err != nil || n != 1 {
		t.Fatalf("RetargetPending() = %d, %v", n, err)
	}

	got, err := db.GetPending(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetPending() error = %v", err)
	}
	if got.TargetKey != 31 || got.URL != "http://api/reviews/31" || string(got.Body) != `{"id":31}` {
		t.Errorf("retargeted op = %+v", got)
	}
	if got.Attempts != 1 || got.LastError != "503 Service Unavailable" {
		t.Errorf("attempts = %d, last_error = %q", got.Attempts, got.LastError)
	}
}

func TestAssets(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, name := range []string{"mws-rs-v9", "mws-rs-v10"} {
		err := db.PutAsset(ctx, &Asset{
			CacheName: name, URL: "/css/styles.css", Status: 200,
			ContentType: "text/css", ETag: `"abc"`, Body: []byte("body{}"),
		})
		if err != nil {
			t.Fatalf("PutAsset(%s) error = %v", name, err)
		}
	}

	a, err := db.GetAsset(ctx, "mws-rs-v10", "/css/styles.css")
	if err != nil {
		t.Fatalf("GetAsset() error = %v", err)
	}
	if string(a.Body) != "body{}" || a.ContentType != "text/css" {
		t.Errorf("asset = %+v", a)
	}

	n, err := db.DeleteCachesExcept(ctx, "mws-rs-v10")
	if err != nil || n != 1 {
		t.Fatalf("DeleteCachesExcept() = %d, %v; want 1", n, err)
	}
	names, _ := db.CacheNames(ctx)
	if diff := cmp.Diff([]string{"mws-rs-v10"}, names); diff != "" {
		t.Errorf("CacheNames() (-want +got):\n%s", diff)
	}
	if _, err := db.GetAsset(ctx, "mws-rs-v9", "/css/styles.css"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale asset lookup error = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	fav := sampleRestaurant(1)
	fav.IsFavorite = true
	_ = db.PutAll(ctx, []schema.Record{fav, sampleRestaurant(2), sampleReview(5, 1, time.Now())})

	s, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if s.Restaurants != 2 || s.Favorites != 1 || s.Reviews != 1 || s.SchemaVersion != SchemaVersion {
		t.Errorf("Stats() = %+v", s)
	}
}
