package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Index names a secondary lookup on one collection.
type Index int

const (
	// IndexRestaurantID looks reviews up by restaurant. Value: int64.
	IndexRestaurantID Index = iota + 1
	// IndexFavorite looks restaurants up by favorite flag. Value: bool.
	IndexFavorite
)

func (i Index) String() string {
	switch i {
	case IndexRestaurantID:
		return "restaurant_id"
	case IndexFavorite:
		return "is_favorite"
	default:
		return fmt.Sprintf("index(%d)", int(i))
	}
}

func tableFor(c schema.Collection) (string, error) {
	switch c {
	case schema.CollectionRestaurants:
		return "restaurants", nil
	case schema.CollectionReviews:
		return "reviews", nil
	default:
		return "", fmt.Errorf("unknown %s", c)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func updatedColumn(rec schema.Record) string {
	ts := rec.LastUpdated()
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

// Get returns the record with the given id, or ErrNotFound.
func (db *DB) Get(ctx context.Context, c schema.Collection, id int64) (schema.Record, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = db.conn.QueryRowContext(ctx, "SELECT body FROM "+table+" WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%d: %w", c, id, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get "+c.String(), err)
	}
	return schema.Decode(c, body)
}

// GetAll returns every record of the collection ordered by id.
func (db *DB) GetAll(ctx context.Context, c schema.Collection) ([]schema.Record, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	table, err := tableFor(c)
	if err != nil {
		return nil, err
	}
	return db.queryRecords(ctx, c, "SELECT body FROM "+table+" ORDER BY id")
}

// GetByIndex returns the records of c whose index column equals value,
// ordered by id.
func (db *DB) GetByIndex(ctx context.Context, c schema.Collection, index Index, value any) ([]schema.Record, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}

	switch index {
	case IndexRestaurantID:
		if c != schema.CollectionReviews {
			return nil, fmt.Errorf("index %s does not apply to %s", index, c)
		}
		id, ok := value.(int64)
		if !ok {
			return nil, fmt.Errorf("index %s needs an int64 value, got %T", index, value)
		}
		return db.queryRecords(ctx, c, "SELECT body FROM reviews WHERE restaurant_id = ? ORDER BY id", id)
	case IndexFavorite:
		if c != schema.CollectionRestaurants {
			return nil, fmt.Errorf("index %s does not apply to %s", index, c)
		}
		fav, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("index %s needs a bool value, got %T", index, value)
		}
		return db.queryRecords(ctx, c, "SELECT body FROM restaurants WHERE is_favorite = ? ORDER BY id", boolInt(fav))
	default:
		return nil, fmt.Errorf("unknown %s", index)
	}
}

func (db *DB) queryRecords(ctx context.Context, c schema.Collection, query string, args ...any) ([]schema.Record, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query "+c.String(), err)
	}
	defer func() { _ = rows.Close() }()

	var out []schema.Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, storageErr("scan "+c.String(), err)
		}
		rec, err := schema.Decode(c, body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate "+c.String(), err)
	}
	return out, nil
}

// Put inserts or replaces a record by key.
func (db *DB) Put(ctx context.Context, rec schema.Record) error {
	return db.PutAll(ctx, []schema.Record{rec})
}

// PutAll upserts records in one transaction.
func (db *DB) PutAll(ctx context.Context, recs []schema.Record) error {
	if err := db.ready(); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if err := putTx(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

func putTx(ctx context.Context, tx *sql.Tx, rec schema.Record) error {
	if rec.Key() == 0 {
		return fmt.Errorf("cannot store %s record without id", rec.Collection())
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%d: %w", rec.Collection(), rec.Key(), err)
	}

	switch r := rec.(type) {
	case *schema.Restaurant:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO restaurants (id, is_favorite, updated_at, body) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				is_favorite = excluded.is_favorite,
				updated_at = excluded.updated_at,
				body = excluded.body
		`, r.ID, boolInt(bool(r.IsFavorite)), updatedColumn(r), body)
	case *schema.Review:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reviews (id, restaurant_id, updated_at, body) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				restaurant_id = excluded.restaurant_id,
				updated_at = excluded.updated_at,
				body = excluded.body
		`, r.ID, r.RestaurantID, updatedColumn(r), body)
	default:
		return fmt.Errorf("unsupported record type %T", rec)
	}
	if err != nil {
		return storageErr("put "+rec.Collection().String(), err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (db *DB) Delete(ctx context.Context, c schema.Collection, id int64) error {
	if err := db.ready(); err != nil {
		return err
	}
	table, err := tableFor(c)
	if err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
		return storageErr("delete "+c.String(), err)
	}
	return nil
}

// Exists reports whether a record with the id is stored.
func (db *DB) Exists(ctx context.Context, c schema.Collection, id int64) (bool, error) {
	if err := db.ready(); err != nil {
		return false, err
	}
	table, err := tableFor(c)
	if err != nil {
		return false, err
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n); err != nil {
		return false, storageErr("count "+c.String(), err)
	}
	return n > 0, nil
}

// Stats summarizes the store contents.
type Stats struct {
	Restaurants   int    `json:"restaurants" yaml:"restaurants"`
	Favorites     int    `json:"favorites" yaml:"favorites"`
	Reviews       int    `json:"reviews" yaml:"reviews"`
	Pending       int    `json:"pending" yaml:"pending"`
	StaticAssets  int    `json:"static_assets" yaml:"static_assets"`
	SchemaVersion int    `json:"schema_version" yaml:"schema_version"`
	Path          string `json:"path" yaml:"path"`
}

// Stats counts rows in every table.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	s := &Stats{Path: db.path}
	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM restaurants", &s.Restaurants},
		{"SELECT COUNT(*) FROM restaurants WHERE is_favorite = 1", &s.Favorites},
		{"SELECT COUNT(*) FROM reviews", &s.Reviews},
		{"SELECT COUNT(*) FROM pending", &s.Pending},
		{"SELECT COUNT(*) FROM static_assets", &s.StaticAssets},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, storageErr("count rows", err)
		}
	}
	v, err := db.Version(ctx)
	if err != nil {
		return nil, err
	}
	s.SchemaVersion = v
	return s, nil
}
