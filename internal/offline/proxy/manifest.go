package proxy

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultCacheName is the static cache version. Bumping it and calling
// Activate evicts every asset cached under older names.
const DefaultCacheName = "mws-rs-v10"

// Manifest lists the assets fetched into the static cache at install.
type Manifest struct {
	CacheName string   `toml:"cache_name"`
	Assets    []string `toml:"assets"`
}

// DefaultManifest returns the built-in install list.
func DefaultManifest() *Manifest {
	assets := []string{
		"/",
		"/css/styles.css",
		"/js/dbhelper.js",
		"/js/main.js",
		"/js/restaurant_info.js",
		"/js/idbhelper.js",
	}
	for i := 1; i <= 10; i++ {
		assets = append(assets, fmt.Sprintf("/img/%d.jpg", i))
	}
	assets = append(assets, "/img/404.jpg", "/index.html", "/restaurant.html")
	return &Manifest{CacheName: DefaultCacheName, Assets: assets}
}

// LoadManifest reads a TOML manifest:
//
//	cache_name = "mws-rs-v11"
//	assets = ["/", "/css/styles.css"]
//
// Asset paths are made site-absolute. A missing cache_name falls back to
// DefaultCacheName.
func LoadManifest(path string) (*Manifest, error) {
	var m Manifest
	md, err := toml.DecodeFile(path, &m)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("manifest %s: unknown keys %v", path, undecoded)
	}
	if m.CacheName == "" {
		m.CacheName = DefaultCacheName
	}
	for i, a := range m.Assets {
		if !strings.HasPrefix(a, "/") {
			m.Assets[i] = "/" + a
		}
	}
	return &m, nil
}
