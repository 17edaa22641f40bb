package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRead(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"array", `[{"id":1},{"id":2}]`, 2},
		{"array with leading space", "\n  [{\"id\":1}]", 1},
		{"jsonl", "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n", 3},
		{"empty", "   ", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Read(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("expected %d records, got %d", tt.want, len(items))
			}
		})
	}
}

func TestRead_Invalid(t *testing.T) {
	if _, err := Read(strings.NewReader("{\"id\":1}\n{nope")); err == nil {
		t.Error("expected error for broken JSONL")
	}
	if _, err := ReadFile("/nonexistent/seed.json"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		input   string
		want    schema.Collection
		wantErr bool
	}{
		{`{"id":1,"restaurant_id":2}`, schema.CollectionReviews, false},
		{`{"id":1,"neighborhood":"Queens"}`, schema.CollectionRestaurants, false},
		{`{"id":1,"cuisine_type":"Pizza"}`, schema.CollectionRestaurants, false},
		{`{"id":1}`, 0, true},
		{`[1]`, 0, true},
	}
	for _, tt := range tests {
		got, err := Detect([]byte(tt.input))
		if (err != nil) != tt.wantErr {
			t.Errorf("Detect(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Detect(%s) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestImport(t *testing.T) {
	path := writeFile(t, "seed.jsonl", strings.Join([]string{
		`{"id":1,"name":"Mission Chinese Food","neighborhood":"Manhattan","cuisine_type":"Asian","is_favorite":"true"}`,
		`{"id":2,"name":"Emily","neighborhood":"Brooklyn","cuisine_type":"Pizza"}`,
		`{"id":10,"restaurant_id":1,"name":"Steve","rating":4,"comments":"Great dumplings"}`,
		`{"id":11,"restaurant_id":1,"name":"Steve","rating":9,"comments":"Out of range"}`,
		`{"restaurant_id":1,"name":"Steve","rating":3,"comments":"No id"}`,
	}, "\n"))

	store := openStore(t)
	ctx := context.Background()

	result, err := Import(ctx, store, Options{From: path, BatchSize: 2})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	want := Result{Restaurants: 2, Reviews: 1, Skipped: 2}
	if diff := cmp.Diff(want, *result, cmpIgnoreErrors); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}
	if len(result.Errors) != 2 {
		t.Errorf("expected 2 errors, got %v", result.Errors)
	}

	favs, err := store.GetByIndex(ctx, schema.CollectionRestaurants, db.IndexFavorite, true)
	if err != nil {
		t.Fatalf("GetByIndex failed: %v", err)
	}
	if len(favs) != 1 || favs[0].Key() != 1 {
		t.Errorf("expected restaurant 1 as only favorite, got %v", favs)
	}
	pending, err := store.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("seeding must not queue writes, got %d pending", pending)
	}
}

func TestImport_DryRun(t *testing.T) {
	path := writeFile(t, "reviews.json", `[{"id":1,"restaurant_id":3,"name":"Ann","rating":5,"comments":"Lovely"}]`)
	store := openStore(t)
	ctx := context.Background()

	result, err := Import(ctx, store, Options{From: path, DryRun: true, Collection: schema.CollectionReviews})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Reviews != 1 {
		t.Errorf("expected 1 review counted, got %d", result.Reviews)
	}
	all, err := store.GetAll(ctx, schema.CollectionReviews)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("dry run wrote %d records", len(all))
	}
}

func TestImport_StorageUnavailable(t *testing.T) {
	path := writeFile(t, "r.json", `[{"id":1,"name":"X","neighborhood":"Queens"}]`)
	store := db.Disabled(os.ErrPermission)

	_, err := Import(context.Background(), store, Options{From: path})
	if err == nil {
		t.Fatal("expected error when store is unavailable")
	}
}

var cmpIgnoreErrors = cmp.FilterPath(func(p cmp.Path) bool {
	return p.String() == "Errors"
}, cmp.Ignore())
