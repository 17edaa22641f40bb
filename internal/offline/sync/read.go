package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/schema"
)

// The read path does not hold a lock between the cache miss and the
// cache populate. A Mutate on the same record that lands in between can
// be overwritten by the older server copy; the next replay or fetch
// converges it again. Records whose writes are already queued are never
// taken from the server: their local copy stays authoritative until the
// queue drains.

// FetchEntity implements Coordinator.FetchEntity.
func (s *coordinator) FetchEntity(ctx context.Context, c schema.Collection, id int64) (schema.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown %s", c)
	}

	rec, err := s.store.Get(ctx, c, id)
	if err == nil {
		return rec, nil
	}
	s.logMiss(err, "%s/%d", c, id)

	data, err := s.remote.Request(ctx, http.MethodGet, s.endpoints.Entity(c, id), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %w", ErrDataUnavailable, c, id, err)
	}
	rec, err = schema.Decode(c, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%d: %w", ErrDataUnavailable, c, id, err)
	}
	if rec.Key() == 0 {
		rec.SetKey(id)
	}

	show, fresh := s.preferLocal(ctx, c, []schema.Record{rec})
	if len(show) == 0 {
		return nil, fmt.Errorf("%s/%d has a queued delete: %w", c, id, db.ErrNotFound)
	}
	s.cache(ctx, fresh...)
	return show[0], nil
}

// FetchCollection implements Coordinator.FetchCollection.
func (s *coordinator) FetchCollection(ctx context.Context, c schema.Collection, filter Filter) ([]schema.Record, error) {
	if err := filter.validate(c); err != nil {
		return nil, err
	}

	recs, err := s.loadLocal(ctx, c, filter)
	if err == nil && len(recs) > 0 {
		return finish(c, filter, recs), nil
	}
	if err != nil {
		s.logMiss(err, "%s list", c)
	}

	url := s.collectionURL(c, filter)
	data, err := s.remote.Request(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, c, err)
	}
	recs, err = schema.DecodeList(c, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDataUnavailable, c, err)
	}

	show, fresh := s.preferLocal(ctx, c, recs)
	s.cache(ctx, fresh...)
	return finish(c, filter, show), nil
}

// preferLocal protects optimistic writes from server copies fetched on a
// miss. A record with queued operations is shown as its local copy, or
// left out when it was deleted locally, and is not cached. fresh holds
// the server copies that may be cached.
func (s *coordinator) preferLocal(ctx context.Context, c schema.Collection, server []schema.Record) (show, fresh []schema.Record) {
	ops, err := s.store.ListPending(ctx)
	if err != nil {
		if !errors.Is(err, db.ErrStorageUnavailable) {
			s.logger.Printf("Failed to check queued writes for %s, not caching: %v", c, err)
			return server, nil
		}
		return server, server
	}
	queued := make(map[int64]bool)
	for _, op := range ops {
		if op.Target == c {
			queued[op.TargetKey] = true
		}
	}
	if len(queued) == 0 {
		return server, server
	}

	show = make([]schema.Record, 0, len(server))
	fresh = make([]schema.Record, 0, len(server))
	for _, rec := range server {
		if !queued[rec.Key()] {
			show = append(show, rec)
			fresh = append(fresh, rec)
			continue
		}
		local, err := s.store.Get(ctx, c, rec.Key())
		switch {
		case err == nil:
			show = append(show, local)
		case errors.Is(err, db.ErrNotFound):
		default:
			s.logger.Printf("Failed to read local %s/%d: %v", c, rec.Key(), err)
			show = append(show, rec)
		}
	}
	return show, fresh
}

func (s *coordinator) loadLocal(ctx context.Context, c schema.Collection, f Filter) ([]schema.Record, error) {
	switch c {
	case schema.CollectionRestaurants:
		if f.FavoritesOnly {
			return s.store.GetByIndex(ctx, c, db.IndexFavorite, true)
		}
		return s.store.GetAll(ctx, c)
	case schema.CollectionReviews:
		if f.RestaurantID != 0 {
			return s.store.GetByIndex(ctx, c, db.IndexRestaurantID, f.RestaurantID)
		}
		return s.store.GetAll(ctx, c)
	default:
		return nil, fmt.Errorf("unknown %s", c)
	}
}

func (s *coordinator) collectionURL(c schema.Collection, f Filter) string {
	switch c {
	case schema.CollectionRestaurants:
		if f.FavoritesOnly {
			return s.endpoints.Favorites()
		}
		return s.endpoints.Collection(c)
	case schema.CollectionReviews:
		if f.RestaurantID != 0 {
			return s.endpoints.ReviewsFor(f.RestaurantID)
		}
		return s.endpoints.Collection(c)
	default:
		panic(fmt.Sprintf("sync: unknown %s", c))
	}
}

// logMiss logs cache failures other than a plain miss.
func (s *coordinator) logMiss(err error, format string, args ...any) {
	switch {
	case errors.Is(err, db.ErrNotFound):
	case errors.Is(err, db.ErrStorageUnavailable):
		s.logger.Printf("Local store unavailable, reading %s from network", fmt.Sprintf(format, args...))
	default:
		s.logger.Printf("Cache read for %s failed, falling back to network: %v", fmt.Sprintf(format, args...), err)
	}
}

// finish applies the filter refinements and the review ordering.
func finish(c schema.Collection, f Filter, recs []schema.Record) []schema.Record {
	out := recs[:0:0]
	for _, rec := range recs {
		if f.Match(rec) {
			out = append(out, rec)
		}
	}
	if c == schema.CollectionReviews {
		SortByUpdatedDesc(out)
	}
	return out
}

// SortByUpdatedDesc orders records newest first by updatedAt. Records
// with equal timestamps keep their relative order.
func SortByUpdatedDesc(recs []schema.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].LastUpdated().After(recs[j].LastUpdated().Time)
	})
}

// Neighborhoods implements Coordinator.Neighborhoods.
func (s *coordinator) Neighborhoods(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(r *schema.Restaurant) string { return r.Neighborhood })
}

// Cuisines implements Coordinator.Cuisines.
func (s *coordinator) Cuisines(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, func(r *schema.Restaurant) string { return r.CuisineType })
}

func (s *coordinator) distinct(ctx context.Context, field func(*schema.Restaurant) string) ([]string, error) {
	recs, err := s.FetchCollection(ctx, schema.CollectionRestaurants, Filter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, rec := range recs {
		v := field(rec.(*schema.Restaurant))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
