package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// serveStatic answers from the asset cache, falling back to the request's
// own target. Requests without an absolute URL target the static origin.
// Only 200 responses from the static origin itself are cached; anything
// else is relayed untouched.
func (p *Interceptor) serveStatic(w http.ResponseWriter, r *http.Request) {
	target := p.upstreamURL(r)
	cacheable := p.isStaticOrigin(target)
	key := target.String()

	if cacheable && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		if a, ok := p.assets.Get(r.Context(), key); ok {
			RequestCount.WithLabelValues("static", "hit").Inc()
			w.Header().Set("X-Cache", "HIT")
			serveAsset(w, r, a.ContentType, a.ETag, a.Body)
			return
		}
	}

	resp, err := p.fetchUpstream(r.Context(), target, r)
	if err != nil {
		RequestCount.WithLabelValues("static", "error").Inc()
		p.logger.Printf("%s %s: %v", r.Method, key, err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if !cacheable || r.Method != http.MethodGet || resp.StatusCode != http.StatusOK || !p.sameOrigin(resp) {
		RequestCount.WithLabelValues("static", "passthrough").Inc()
		relay(w, resp)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		RequestCount.WithLabelValues("static", "error").Inc()
		http.Error(w, "upstream read failed", http.StatusBadGateway)
		return
	}

	a, err := p.assets.Put(r.Context(), key, resp.Header.Get("Content-Type"), body)
	if err != nil {
		p.logger.Printf("Failed to cache %s: %v", key, err)
	}
	CachedAssets.WithLabelValues("fetch").Inc()
	RequestCount.WithLabelValues("static", "miss").Inc()
	w.Header().Set("X-Cache", "MISS")
	serveAsset(w, r, a.ContentType, a.ETag, a.Body)
}

// upstreamURL is where r is fetched from: its absolute URL when it has
// one, else the same path on the static origin. Static-origin URLs are
// rebuilt on p.static so equal targets give equal cache keys.
func (p *Interceptor) upstreamURL(r *http.Request) *url.URL {
	var u url.URL
	if r.URL.IsAbs() && r.URL.Host != "" && !p.isStaticOrigin(r.URL) {
		u = *r.URL
	} else {
		u = *p.static
		u.Path = r.URL.Path
		u.RawPath = r.URL.RawPath
		u.RawQuery = r.URL.RawQuery
	}
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// isStaticOrigin reports whether u has the static origin's scheme and
// host:port.
func (p *Interceptor) isStaticOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, p.static.Scheme) &&
		withPort(u.Host, u.Scheme) == withPort(p.static.Host, p.static.Scheme)
}

// staticURL returns path on the static origin.
func (p *Interceptor) staticURL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid asset path %q: %w", path, err)
	}
	u := *p.static
	u.Path = "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return &u, nil
}

func (p *Interceptor) fetchUpstream(ctx context.Context, target *url.URL, r *http.Request) (*http.Response, error) {
	method := http.MethodGet
	var body io.Reader
	if r != nil {
		method = r.Method
		if r.Body != nil && method != http.MethodGet && method != http.MethodHead {
			body = r.Body
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	if r != nil {
		for _, h := range []string{"Accept", "Accept-Language", "Content-Type", "User-Agent"} {
			if v := r.Header.Get(h); v != "" {
				req.Header.Set(h, v)
			}
		}
	}
	return p.client.Do(req)
}

// sameOrigin reports whether the final response (after redirects) came
// from the static origin, the equivalent of a "basic" fetch response.
func (p *Interceptor) sameOrigin(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return p.isStaticOrigin(resp.Request.URL)
}

// Precache fetches paths into the asset cache, the install step. It
// returns how many were cached and the first error met.
func (p *Interceptor) Precache(ctx context.Context, paths []string) (int, error) {
	var firstErr error
	cached := 0
	for _, path := range paths {
		target, err := p.staticURL(path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		resp, err := p.fetchUpstream(ctx, target, nil)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("precache %s: %w", path, err)
			}
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		_ = resp.Body.Close()
		if err != nil || resp.StatusCode != http.StatusOK {
			if firstErr == nil {
				firstErr = fmt.Errorf("precache %s: status %d: %v", path, resp.StatusCode, err)
			}
			continue
		}
		if _, err := p.assets.Put(ctx, target.String(), resp.Header.Get("Content-Type"), body); err != nil && firstErr == nil {
			firstErr = err
		}
		CachedAssets.WithLabelValues("precache").Inc()
		cached++
	}
	p.logger.Printf("Precached %d/%d assets into %s", cached, len(paths), p.assets.Name())
	return cached, firstErr
}

// Activate drops assets cached under older cache names.
func (p *Interceptor) Activate(ctx context.Context) (int64, error) {
	n, err := p.assets.Activate(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Printf("Removed %d stale assets", n)
	}
	return n, nil
}

func serveAsset(w http.ResponseWriter, r *http.Request, contentType, tag string, body []byte) {
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if tag != "" {
		w.Header().Set("ETag", tag)
		if r.Header.Get("If-None-Match") == tag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = io.Copy(w, bytes.NewReader(body))
	}
}

func relay(w http.ResponseWriter, resp *http.Response) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
