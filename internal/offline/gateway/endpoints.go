package gateway

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Endpoints builds remote API URLs from the API origin.
type Endpoints struct {
	base *url.URL
}

// NewEndpoints parses the API origin.
func NewEndpoints(base string) (*Endpoints, error) {
	if base == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base URL %q: %w", base, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base URL %q must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("api base URL %q has no host", base)
	}
	return &Endpoints{base: u}, nil
}

// Host returns the origin's host:port, used to recognize API traffic. A
// base URL without a port gets the scheme's default, 80 or 443.
func (e *Endpoints) Host() string {
	if e.base.Port() != "" {
		return strings.ToLower(e.base.Host)
	}
	port := "80"
	if e.base.Scheme == "https" {
		port = "443"
	}
	return strings.ToLower(net.JoinHostPort(e.base.Hostname(), port))
}

// Base returns the API origin.
func (e *Endpoints) Base() string {
	return e.base.String()
}

func (e *Endpoints) join(path string) string {
	return e.base.String() + path
}

// Collection returns the list URL: /restaurants or /reviews/.
func (e *Endpoints) Collection(c schema.Collection) string {
	switch c {
	case schema.CollectionRestaurants:
		return e.join("/restaurants")
	case schema.CollectionReviews:
		return e.join("/reviews/")
	default:
		panic(fmt.Sprintf("gateway: unknown %s", c))
	}
}

// Entity returns the URL of one record: /restaurants/:id or /reviews/:id.
func (e *Endpoints) Entity(c schema.Collection, id int64) string {
	switch c {
	case schema.CollectionRestaurants:
		return e.join("/restaurants/" + strconv.FormatInt(id, 10))
	case schema.CollectionReviews:
		return e.join("/reviews/" + strconv.FormatInt(id, 10))
	default:
		panic(fmt.Sprintf("gateway: unknown %s", c))
	}
}

// Favorites returns GET /restaurants/?is_favorite=true.
func (e *Endpoints) Favorites() string {
	return e.join("/restaurants/?is_favorite=true")
}

// ToggleFavorite returns PUT /restaurants/:id/?is_favorite=<fav>.
func (e *Endpoints) ToggleFavorite(id int64, fav bool) string {
	return e.join(fmt.Sprintf("/restaurants/%d/?is_favorite=%t", id, fav))
}

// ReviewsFor returns GET /reviews/?restaurant_id=:id.
func (e *Endpoints) ReviewsFor(restaurantID int64) string {
	return e.join("/reviews/?restaurant_id=" + strconv.FormatInt(restaurantID, 10))
}

// CreateReview returns POST /reviews.
func (e *Endpoints) CreateReview() string {
	return e.join("/reviews")
}
