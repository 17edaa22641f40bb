package schema

import (
	"encoding/json"
	"fmt"
)

// Collection names one of the record collections. The set is closed:
// code switching over a Collection handles both members and treats
// anything else as a programming error.
type Collection int

const (
	CollectionRestaurants Collection = iota + 1
	CollectionReviews
)

// Collections lists every valid collection in a stable order.
var Collections = []Collection{CollectionRestaurants, CollectionReviews}

// String returns the collection's API resource name.
func (c Collection) String() string {
	switch c {
	case CollectionRestaurants:
		return "restaurants"
	case CollectionReviews:
		return "reviews"
	default:
		return fmt.Sprintf("collection(%d)", int(c))
	}
}

// Valid reports whether c is one of the known collections.
func (c Collection) Valid() bool {
	switch c {
	case CollectionRestaurants, CollectionReviews:
		return true
	default:
		return false
	}
}

// ParseCollection maps a resource name to its Collection.
func ParseCollection(name string) (Collection, error) {
	switch name {
	case "restaurants":
		return CollectionRestaurants, nil
	case "reviews":
		return CollectionReviews, nil
	default:
		return 0, fmt.Errorf("unknown collection %q", name)
	}
}

// MarshalJSON encodes the collection by name.
func (c Collection) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", c)
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a collection name.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("collection must be a string: %w", err)
	}
	parsed, err := ParseCollection(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML encodes the collection by name.
func (c Collection) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}
