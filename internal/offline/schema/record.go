package schema

import (
	"encoding/json"
	"fmt"
)

// Record is implemented by every entity the store keeps in a collection.
type Record interface {
	Collection() Collection
	Key() int64
	SetKey(id int64)
	LastUpdated() Timestamp
	Validate() error
}

// New returns an empty record of the collection's concrete type.
func New(c Collection) (Record, error) {
	switch c {
	case CollectionRestaurants:
		return &Restaurant{}, nil
	case CollectionReviews:
		return &Review{}, nil
	default:
		return nil, fmt.Errorf("unknown %s", c)
	}
}

// Decode parses one JSON record of collection c.
func Decode(c Collection, data []byte) (Record, error) {
	rec, err := New(c)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s record: %w", c, err)
	}
	return rec, nil
}

// DecodeList parses a JSON array of records of collection c.
func DecodeList(c Collection, data []byte) ([]Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s list: %w", c, err)
	}
	out := make([]Record, 0, len(raw))
	for i, item := range raw {
		rec, err := Decode(c, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
