package schema

// Review is a user review of one restaurant.
//
// Reviews created offline carry a provisional ID until the server
// confirms them and assigns the permanent one.
type Review struct {
	ID           int64     `json:"id,omitempty"`
	RestaurantID int64     `json:"restaurant_id" validate:"gt=0"`
	Name         string    `json:"name" validate:"required,max=25,alpha"`
	Rating       int       `json:"rating" validate:"min=1,max=5"`
	Comments     string    `json:"comments" validate:"min=1,max=140"`
	CreatedAt    Timestamp `json:"createdAt"`
	UpdatedAt    Timestamp `json:"updatedAt"`
}

// Collection implements Record.
func (r *Review) Collection() Collection { return CollectionReviews }

// Key implements Record.
func (r *Review) Key() int64 { return r.ID }

// SetKey implements Record.
func (r *Review) SetKey(id int64) { r.ID = id }

// LastUpdated implements Record.
func (r *Review) LastUpdated() Timestamp { return r.UpdatedAt }

// Validate checks the review against the form rules: a rating from 1 to 5,
// a comment of 1 to 140 characters, a reviewer name of letters only (at most
// 25) and a positive restaurant id.
func (r *Review) Validate() error {
	return validateStruct(r)
}
