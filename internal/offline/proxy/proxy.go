// Package proxy is the request interceptor in front of the web client.
//
// Every request is classified by the host:port it targets. Requests for
// the API origin are served through the sync coordinator (reads) or
// forwarded unchanged to the remote gateway (writes). Everything else is
// fetched from its own target, and responses from the static origin are
// served Cache-or-Fetch from a versioned cache.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
)

// maxBody caps request and upstream bodies.
const maxBody = 16 << 20

// Forwarder sends API writes upstream. *gateway.Gateway implements it.
type Forwarder interface {
	Forward(ctx context.Context, method, url string, body []byte, opts ...gateway.RequestOption) (*gateway.Reply, error)
	Endpoints() *gateway.Endpoints
}

// Config configures an Interceptor.
type Config struct {
	// StaticOrigin serves the site's files, e.g. http://localhost:8000.
	StaticOrigin string

	// Client fetches static assets. Defaults to a client with a 10s timeout.
	Client *http.Client

	// Logger for request activity (default: stderr with [proxy] prefix).
	Logger *log.Logger
}

// Interceptor is an http.Handler implementing the interception rules.
type Interceptor struct {
	coord   sync.Coordinator
	api     Forwarder
	assets  *AssetCache
	static  *url.URL
	client  *http.Client
	logger  *log.Logger
	apiHost string
}

// New creates an Interceptor.
func New(coord sync.Coordinator, api Forwarder, assets *AssetCache, cfg Config) (*Interceptor, error) {
	static, err := url.Parse(strings.TrimRight(cfg.StaticOrigin, "/"))
	if err != nil || static.Host == "" {
		return nil, fmt.Errorf("invalid static origin %q", cfg.StaticOrigin)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[proxy] ", log.LstdFlags)
	}
	return &Interceptor{
		coord:   coord,
		api:     api,
		assets:  assets,
		static:  static,
		client:  client,
		logger:  logger,
		apiHost: api.Endpoints().Host(),
	}, nil
}

// ServeHTTP implements http.Handler.
func (p *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	route, err := Classify(r, p.apiHost)
	defer func() {
		RequestDuration.WithLabelValues(route.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		RequestCount.WithLabelValues(route.Kind.String(), "bad_request").Inc()
		writeError(w, http.StatusNotFound, err)
		return
	}

	switch route.Kind {
	case KindStatic:
		p.serveStatic(w, r)
	case KindAPI:
		if r.Method == http.MethodGet {
			p.serveAPIRead(w, r, route)
		} else {
			p.forwardAPIWrite(w, r)
		}
	}
}

func (p *Interceptor) serveAPIRead(w http.ResponseWriter, r *http.Request, route Route) {
	ctx := r.Context()
	var (
		payload any
		err     error
	)

	switch route.Shape {
	case ShapeByID:
		payload, err = p.coord.FetchEntity(ctx, route.Resource, route.ID)
	case ShapeAll:
		payload, err = p.list(ctx, route.Resource, sync.Filter{})
	case ShapeFavorites:
		payload, err = p.list(ctx, route.Resource, sync.Filter{FavoritesOnly: true})
	case ShapeByRestaurant:
		payload, err = p.list(ctx, route.Resource, sync.Filter{RestaurantID: route.ID})
	}

	if err != nil {
		status, outcome := http.StatusInternalServerError, "error"
		switch {
		case sync.IsNotFound(err):
			status, outcome = http.StatusNotFound, "not_found"
		case sync.IsDataUnavailable(err):
			status, outcome = http.StatusServiceUnavailable, "unavailable"
		}
		RequestCount.WithLabelValues("api", outcome).Inc()
		p.logger.Printf("GET %s: %v", r.URL.RequestURI(), err)
		writeError(w, status, err)
		return
	}

	RequestCount.WithLabelValues("api", "served").Inc()
	writeJSON(w, http.StatusOK, payload)
}

func (p *Interceptor) list(ctx context.Context, c schema.Collection, f sync.Filter) ([]schema.Record, error) {
	recs, err := p.coord.FetchCollection(ctx, c, f)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []schema.Record{}
	}
	return recs, nil
}

func (p *Interceptor) forwardAPIWrite(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(data) > 0 {
			body = data
		}
	}

	var opts []gateway.RequestOption
	if k := r.Header.Get("Idempotency-Key"); k != "" {
		opts = append(opts, gateway.WithIdempotencyKey(k))
	}
	target := p.api.Endpoints().Base() + r.URL.RequestURI()
	reply, err := p.api.Forward(r.Context(), r.Method, target, body, opts...)
	if err != nil {
		RequestCount.WithLabelValues("api", "forward_failed").Inc()
		writeError(w, http.StatusBadGateway, err)
		return
	}

	RequestCount.WithLabelValues("api", "forwarded").Inc()
	for _, h := range []string{"Content-Type", "Location", "Cache-Control"} {
		if v := reply.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(reply.Status)
	_, _ = w.Write(reply.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
