package proxy

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

// Kind separates API traffic from static asset traffic.
type Kind int

const (
	KindStatic Kind = iota + 1
	KindAPI
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindAPI:
		return "api"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Shape is the form of an API read.
type Shape int

const (
	ShapeAll Shape = iota + 1
	ShapeByID
	ShapeFavorites
	ShapeByRestaurant
)

func (s Shape) String() string {
	switch s {
	case ShapeAll:
		return "all"
	case ShapeByID:
		return "by-id"
	case ShapeFavorites:
		return "favorites"
	case ShapeByRestaurant:
		return "by-restaurant"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Route is the classification of one intercepted request.
type Route struct {
	Kind     Kind
	Resource schema.Collection
	Shape    Shape
	// ID is the record id for ShapeByID and the restaurant id for
	// ShapeByRestaurant.
	ID int64
}

// targetHost returns the host:port the request is addressed to. Proxied
// requests carry an absolute URL; direct ones only the Host header.
func targetHost(r *http.Request) string {
	host := r.Host
	scheme := "http"
	if r.URL != nil && r.URL.Host != "" {
		host = r.URL.Host
		if r.URL.Scheme != "" {
			scheme = r.URL.Scheme
		}
	} else if r.TLS != nil {
		scheme = "https"
	}
	return withPort(host, scheme)
}

func withPort(host, scheme string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return strings.ToLower(host)
	}
	port := "80"
	if scheme == "https" {
		port = "443"
	}
	return strings.ToLower(net.JoinHostPort(host, port))
}

// Classify decides whether r goes to the API (its target host:port equals
// apiHost, as returned by gateway.Endpoints.Host; a bare host means port
// 80) and, for API reads, which resource and shape it asks for.
// Non-GET API requests are classified by kind only.
func Classify(r *http.Request, apiHost string) (Route, error) {
	if targetHost(r) != withPort(apiHost, "http") {
		return Route{Kind: KindStatic}, nil
	}
	route := Route{Kind: KindAPI}
	if r.Method != http.MethodGet {
		return route, nil
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	c, err := schema.ParseCollection(parts[0])
	if err != nil {
		return route, fmt.Errorf("unknown API resource %q", r.URL.Path)
	}
	route.Resource = c
	q := r.URL.Query()

	switch len(parts) {
	case 1:
		route.Shape = ShapeAll
		switch c {
		case schema.CollectionRestaurants:
			if fav := q.Get("is_favorite"); fav != "" {
				b, err := strconv.ParseBool(fav)
				if err != nil {
					return route, fmt.Errorf("invalid is_favorite %q", fav)
				}
				if b {
					route.Shape = ShapeFavorites
				}
			}
		case schema.CollectionReviews:
			if rid := q.Get("restaurant_id"); rid != "" {
				id, err := strconv.ParseInt(rid, 10, 64)
				if err != nil || id <= 0 {
					return route, fmt.Errorf("invalid restaurant_id %q", rid)
				}
				route.Shape = ShapeByRestaurant
				route.ID = id
			}
		}
	case 2:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return route, fmt.Errorf("invalid %s id %q", c, parts[1])
		}
		route.Shape = ShapeByID
		route.ID = id
	default:
		return route, fmt.Errorf("unknown API path %q", r.URL.Path)
	}
	return route, nil
}
