package resolver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	fulfill "github.com/openstall/fulfill"
)

// RouteKey identifies one upstream route. Endpoints are always re-resolved
// through a RouteTable at dispatch time; the order snapshot's own endpoint
// field, if any, is deliberately not trusted.
type RouteKey struct {
	ChainID    uint64
	Seller     string
	SKU        string
	Capability fulfill.Capability
}

// RouteTable resolves upstream adapter endpoints. Resolve reports ok=false
// when no route exists; that is a soft miss, not an error.
type RouteTable interface {
	Resolve(ctx context.Context, key RouteKey) (endpoint string, ok bool, err error)
}

// StaticRoutes is a fixed in-memory route table, loadable from YAML.
type StaticRoutes struct {
	mu     sync.RWMutex
	routes map[RouteKey]string
}

// NewStaticRoutes creates an empty table.
func NewStaticRoutes() *StaticRoutes {
	return &StaticRoutes{routes: make(map[RouteKey]string)}
}

// Add registers an endpoint for key.
func (r *StaticRoutes) Add(key RouteKey, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[normalizeRouteKey(key)] = endpoint
}

// Resolve returns the endpoint for key.
func (r *StaticRoutes) Resolve(_ context.Context, key RouteKey) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoint, ok := r.routes[normalizeRouteKey(key)]
	return endpoint, ok, nil
}

func normalizeRouteKey(key RouteKey) RouteKey {
	key.Seller = strings.ToLower(key.Seller)
	if key.Capability == "" {
		key.Capability = fulfill.CapabilityFulfillment
	}
	return key
}

type routeFileEntry struct {
	ChainID    uint64 `yaml:"chainId"`
	Seller     string `yaml:"seller"`
	SKU        string `yaml:"sku"`
	Capability string `yaml:"capability"`
	Endpoint   string `yaml:"endpoint"`
}

type routeFile struct {
	Routes []routeFileEntry `yaml:"routes"`
}

// LoadRoutesFile reads a YAML route table:
//
//	routes:
//	  - chainId: 8453
//	    seller: "0xabc..."
//	    sku: "game-key-std"
//	    endpoint: "https://erp.example/hooks/fulfill/8453/0xabc..."
//
// Capability defaults to fulfillment when omitted.
func LoadRoutesFile(path string) (*StaticRoutes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	var file routeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}

	routes := NewStaticRoutes()
	for i, entry := range file.Routes {
		if entry.Seller == "" || entry.SKU == "" || entry.Endpoint == "" {
			return nil, fmt.Errorf("routes[%d]: seller, sku, and endpoint are required", i)
		}
		routes.Add(RouteKey{
			ChainID:    entry.ChainID,
			Seller:     entry.Seller,
			SKU:        entry.SKU,
			Capability: fulfill.Capability(entry.Capability),
		}, entry.Endpoint)
	}
	return routes, nil
}

// Ensure StaticRoutes implements RouteTable
var _ RouteTable = (*StaticRoutes)(nil)
