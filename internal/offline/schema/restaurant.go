package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LatLng is a restaurant's map position.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Favorite is the restaurant favorite flag. The API stores it as a query
// parameter string, so responses carry either true/false or
// "true"/"false".
type Favorite bool

// UnmarshalJSON accepts a JSON bool, a quoted bool or null.
func (f *Favorite) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = false
			return nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid is_favorite %q", s)
		}
		*f = Favorite(b)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalid is_favorite %s: %w", data, err)
	}
	*f = Favorite(b)
	return nil
}

// Restaurant is a directory entry. Clients never create or delete
// restaurants; the only client-side change is the favorite flag.
type Restaurant struct {
	ID             int64             `json:"id" validate:"gt=0"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood,omitempty"`
	Photograph     string            `json:"photograph,omitempty"`
	Address        string            `json:"address,omitempty"`
	LatLng         LatLng            `json:"latlng"`
	CuisineType    string            `json:"cuisine_type,omitempty"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     Favorite          `json:"is_favorite"`
	CreatedAt      Timestamp         `json:"createdAt"`
	UpdatedAt      Timestamp         `json:"updatedAt"`
}

// Collection implements Record.
func (r *Restaurant) Collection() Collection { return CollectionRestaurants }

// Key implements Record.
func (r *Restaurant) Key() int64 { return r.ID }

// SetKey implements Record.
func (r *Restaurant) SetKey(id int64) { r.ID = id }

// LastUpdated implements Record.
func (r *Restaurant) LastUpdated() Timestamp { return r.UpdatedAt }

// ImagePath returns the site-relative photo path, falling back to the
// placeholder image when the restaurant has none.
func (r *Restaurant) ImagePath() string {
	photo := r.Photograph
	if photo == "" {
		photo = "404"
	}
	return fmt.Sprintf("/img/%s.jpg", photo)
}

// PagePath returns the site-relative detail page path.
func (r *Restaurant) PagePath() string {
	return fmt.Sprintf("./restaurant.html?id=%d", r.ID)
}

// Validate checks the fields a client is allowed to change.
func (r *Restaurant) Validate() error {
	return validateStruct(r)
}
