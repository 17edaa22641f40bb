package schema

import (
	"errors"
	"strings"
	"testing"
)

func validReview() *Review {
	return &Review{
		RestaurantID: 3,
		Name:         "Alice",
		Rating:       4,
		Comments:     "Great dumplings",
	}
}

func TestReviewValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *Review)
		wantField string
	}{
		{name: "valid", mutate: func(r *Review) {}},
		{name: "rating 1", mutate: func(r *Review) { r.Rating = 1 }},
		{name: "rating 5", mutate: func(r *Review) { r.Rating = 5 }},
		{name: "rating 0", mutate: func(r *Review) { r.Rating = 0 }, wantField: "rating"},
		{name: "rating 6", mutate: func(r *Review) { r.Rating = 6 }, wantField: "rating"},
		{name: "comment length 1", mutate: func(r *Review) { r.Comments = "x" }},
		{name: "comment length 140", mutate: func(r *Review) { r.Comments = strings.Repeat("x", 140) }},
		{name: "comment length 0", mutate: func(r *Review) { r.Comments = "" }, wantField: "comments"},
		{name: "comment length 141", mutate: func(r *Review) { r.Comments = strings.Repeat("x", 141) }, wantField: "comments"},
		{name: "empty name", mutate: func(r *Review) { r.Name = "" }, wantField: "name"},
		{name: "name with digits", mutate: func(r *Review) { r.Name = "Alice2" }, wantField: "name"},
		{name: "name with punctuation", mutate: func(r *Review) { r.Name = "O'Neil" }, wantField: "name"},
		{name: "name 25 letters", mutate: func(r *Review) { r.Name = strings.Repeat("a", 25) }},
		{name: "name 26 letters", mutate: func(r *Review) { r.Name = strings.Repeat("a", 26) }, wantField: "name"},
		{name: "restaurant zero", mutate: func(r *Review) { r.RestaurantID = 0 }, wantField: "restaurant_id"},
		{name: "restaurant negative", mutate: func(r *Review) { r.RestaurantID = -4 }, wantField: "restaurant_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validReview()
			tt.mutate(r)
			err := r.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if _, ok := verr.Field(tt.wantField); !ok {
				t.Errorf("Validate() problems = %+v, want one for %q", verr.Problems, tt.wantField)
			}
		})
	}
}

func TestReviewValidateReportsEveryField(t *testing.T) {
	r := &Review{}
	err := r.Validate()

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	for _, field := range []string{"restaurant_id", "name", "rating", "comments"} {
		if _, ok := verr.Field(field); !ok {
			t.Errorf("missing problem for %q in %v", field, verr)
		}
	}
	if !IsValidationError(err) {
		t.Error("IsValidationError() = false")
	}
}

func TestRestaurantValidate(t *testing.T) {
	if err := (&Restaurant{ID: 1}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := (&Restaurant{}).Validate(); !IsValidationError(err) {
		t.Errorf("Validate() error = %v, want validation error", err)
	}
}
