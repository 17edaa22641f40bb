// Package seed imports restaurant and review exports into the local store.
//
// Input is either a JSON array (the API's list responses saved to disk)
// or JSON Lines, one record per line. Seeded records are server data:
// they are stored as-is and never queued for replay.
package seed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Store receives imported records. *db.DB implements it.
type Store interface {
	PutAll(ctx context.Context, recs []schema.Record) error
}

// Options contains configuration for an import
type Options struct {
	From       string            // Input file path
	Collection schema.Collection // Zero detects per record
	DryRun     bool              // Parse and validate without writing
	BatchSize  int               // Records per transaction (default 500)
}

// Result contains statistics about the import
type Result struct {
	Restaurants int      `json:"restaurants" yaml:"restaurants"`
	Reviews     int      `json:"reviews" yaml:"reviews"`
	Skipped     int      `json:"skipped" yaml:"skipped"`
	Errors      []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ReadFile reads the raw records of a JSON array or JSON Lines file.
func ReadFile(path string) ([]json.RawMessage, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer file.Close()
	return Read(file)
}

// Read reads the raw records of a JSON array or JSON Lines stream.
func Read(r io.Reader) ([]json.RawMessage, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed data: %w", err)
	}

	decoder := json.NewDecoder(br)
	if first == '[' {
		var items []json.RawMessage
		if err := decoder.Decode(&items); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return items, nil
	}

	var items []json.RawMessage
	for n := 1; ; n++ {
		var item json.RawMessage
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", n, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

// Detect guesses the collection of a raw record from its fields.
func Detect(raw json.RawMessage) (schema.Collection, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return 0, fmt.Errorf("record is not an object: %w", err)
	}
	if _, ok := fields["restaurant_id"]; ok {
		return schema.CollectionReviews, nil
	}
	for _, f := range []string{"cuisine_type", "neighborhood", "latlng", "operating_hours"} {
		if _, ok := fields[f]; ok {
			return schema.CollectionRestaurants, nil
		}
	}
	return 0, fmt.Errorf("cannot tell restaurant from review")
}

// Import loads opts.From into store.
//
// Records that fail to decode or validate, or carry no id, are skipped and
// listed in Result.Errors. Only a write failure aborts the import.
func Import(ctx context.Context, store Store, opts Options) (*Result, error) {
	items, err := ReadFile(opts.From)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}

	result := &Result{}
	batch := make([]schema.Record, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 || opts.DryRun {
			batch = batch[:0]
			return nil
		}
		if err := store.PutAll(ctx, batch); err != nil {
			return fmt.Errorf("failed to store records: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	for i, item := range items {
		rec, err := decode(item, opts.Collection)
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
			continue
		}

		switch rec.Collection() {
		case schema.CollectionRestaurants:
			result.Restaurants++
		case schema.CollectionReviews:
			result.Reviews++
		}

		batch = append(batch, rec)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

func decode(item json.RawMessage, c schema.Collection) (schema.Record, error) {
	if c == 0 {
		detected, err := Detect(item)
		if err != nil {
			return nil, err
		}
		c = detected
	}
	rec, err := schema.Decode(c, item)
	if err != nil {
		return nil, err
	}
	if rec.Key() <= 0 {
		return nil, fmt.Errorf("%s record has no id", c)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
