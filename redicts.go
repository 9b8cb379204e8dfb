// Package redicts provides a hierarchical, Redis-backed lock and value tree
// addressed by dotted paths. Locking any node implicitly guards its whole
// subtree; values written at a node are JSON-encoded scalars or nested
// mappings, flattened onto one leaf key per terminal scalar. See the
// backend, lock, and proxy packages for the pieces this façade wires
// together.
package redicts

import (
	"go.uber.org/zap"

	"github.com/adnymics/redicts/backend"
	"github.com/adnymics/redicts/lock"
	"github.com/adnymics/redicts/proxy"
)

// Re-exported types so callers importing only this package get the full
// surface without reaching into subpackages.
type (
	Config  = backend.Config
	Pool    = backend.Pool
	Backend = backend.Backend
	Lock    = lock.Lock
	Proxy   = proxy.Proxy
	Options = proxy.Options
)

var (
	NewPool        = backend.NewPool
	DefaultConfig  = backend.DefaultConfig
	DefaultOptions = proxy.DefaultOptions
	NewBackend     = backend.New
	WithOwner      = lock.WithOwner
	NewLock        = lock.New
	NewProxy       = proxy.New
	ProxyFromCache = proxy.FromRegistry
)

// DefaultDBName is the logical database name used by Root, Section, and At
// when no explicit name is given.
const DefaultDBName = ""

// Root returns the proxy for the tree root against the named logical
// database of pool (DefaultDBName selects pool's default database).
func Root(pool *Pool, dbName string, opts Options) (*Proxy, error) {
	return At(pool, dbName, "", opts)
}

// Section returns the proxy for a first-level child of the root named name.
func Section(pool *Pool, dbName, name string, opts Options) (*Proxy, error) {
	return At(pool, dbName, name, opts)
}

// At returns the (registry-cached) proxy for dottedPath against the named
// logical database of pool.
func At(pool *Pool, dbName, dottedPath string, opts Options) (*Proxy, error) {
	be := pool.GetConnection(dbName)
	return proxy.FromRegistry(be, dbName, dottedPath, opts)
}

// NewLogger is a convenience for callers who want a single zap.Logger shared
// across a Pool, Lock, and Proxy tree but don't otherwise depend on zap.
func NewLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}
