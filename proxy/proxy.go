// Package proxy implements the hierarchical JSON value tree: a proxy for a
// dotted path can read and write scalars or nested mappings, with the
// invariant that only one key along any root-to-leaf path in the value tree
// holds a value at a time. Each proxy also embeds a lock for its own path,
// so scoped acquisitions bracket a block of value operations.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adnymics/redicts/backend"
	"github.com/adnymics/redicts/lock"
	"github.com/adnymics/redicts/treepath"
)

// Options configures a Proxy's embedded lock and logging. Zero-value fields
// take the documented defaults.
type Options struct {
	AcquireTimeout time.Duration // default 10s
	ExpireTimeout  time.Duration // default 30s
	Logger         *zap.Logger
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		AcquireTimeout: 10 * time.Second,
		ExpireTimeout:  30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	out := o
	if out.AcquireTimeout == 0 {
		out.AcquireTimeout = 10 * time.Second
	}
	if out.ExpireTimeout == 0 {
		out.ExpireTimeout = 30 * time.Second
	}
	return out
}

// Proxy addresses one node of the value tree at path, against a single
// backend connection, with an embedded lock scoped to the same path.
type Proxy struct {
	path treepath.Path
	be   backend.Backend
	lk   *lock.Lock
	log  *zap.Logger
}

// New constructs a Proxy directly, bypassing the registry. Most callers
// should prefer FromRegistry for referential-identity caching.
func New(be backend.Backend, dottedPath string, opts Options) (*Proxy, error) {
	p, err := treepath.ParseAllowRoot(dottedPath)
	if err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	lk, err := lock.New(be, dottedPath, opts.AcquireTimeout, opts.ExpireTimeout, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &Proxy{
		path: p,
		be:   be,
		lk:   lk,
		log:  opts.Logger.Named("proxy"),
	}, nil
}

type registryKey struct {
	path   string
	dbName string
}

var (
	registryMu sync.Mutex
	registry   = map[registryKey]*Proxy{}
)

// FromRegistry returns the process-wide cached Proxy for (dottedPath,
// dbName), constructing and memoizing it on first use. Two calls with the
// same arguments return the identical *Proxy (spec scenario: proxy identity
// cache); calls with different arguments never alias. dbName is opaque to
// the registry itself — callers use it purely as a cache-partitioning key
// alongside whatever backend they pass in.
func FromRegistry(be backend.Backend, dbName, dottedPath string, opts Options) (*Proxy, error) {
	key := registryKey{path: dottedPath, dbName: dbName}

	registryMu.Lock()
	defer registryMu.Unlock()

	if p, ok := registry[key]; ok {
		return p, nil
	}

	p, err := New(be, dottedPath, opts)
	if err != nil {
		return nil, err
	}
	registry[key] = p
	return p, nil
}

// Key returns this proxy's absolute value-tree key.
func (p *Proxy) Key() string { return p.path.ValueKey() }

func (p *Proxy) subPath(sub string) (treepath.Path, error) {
	if sub == "" {
		return p.path, nil
	}
	return p.path.Join(sub)
}

// Exists reports whether this proxy's own key holds a scalar. A
// subtree-only presence does not count; use Val to detect that.
func (p *Proxy) Exists(ctx context.Context) (bool, error) {
	_, ok, err := p.be.Get(ctx, p.Key())
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Val reads this proxy's value: the scalar at its own key if one exists,
// otherwise the mapping reassembled from its subtree. If neither is
// present, Val returns def (nil when def is nil). A key explicitly set to
// null returns nil whatever def is, so a non-nil def tells a never-set key
// apart from one set to null.
func (p *Proxy) Val(ctx context.Context, def interface{}) (interface{}, error) {
	if raw, ok, err := p.be.Get(ctx, p.Key()); err != nil {
		return nil, err
	} else if ok {
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("redicts: decoding value at %q: %w", p.Key(), err)
		}
		return v, nil
	}

	mapping, err := p.assembleSubtree(ctx)
	if err != nil {
		return nil, err
	}
	if len(mapping) > 0 {
		return mapping, nil
	}

	if def == nil {
		exists, err := p.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, nil
		}
	}
	return def, nil
}

func (p *Proxy) assembleSubtree(ctx context.Context) (map[string]interface{}, error) {
	prefix := p.Key()
	keys, err := p.be.ScanPrefix(ctx, prefix+".*")
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix+".")
		raw, ok, err := p.be.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("redicts: decoding value at %q: %w", key, err)
		}
		treepath.Unflatten(result, rel, v)
	}
	return result, nil
}

func truncateTTL(ttl time.Duration) time.Duration {
	return time.Duration(math.Floor(ttl.Seconds())) * time.Second
}

// Set writes value at sub (relative to this proxy's path), clearing
// ancestors in the value tree per invariant 3, and replacing any existing
// subtree at sub, whether value is a scalar or a mapping. ttl, if non-nil,
// is truncated to whole seconds.
func (p *Proxy) Set(ctx context.Context, sub string, value interface{}, ttl *time.Duration) (*Proxy, error) {
	target, err := p.subPath(sub)
	if err != nil {
		return nil, err
	}
	key := target.ValueKey()

	if chain := target.Ancestors(); len(chain) > 1 {
		for _, anc := range chain[1:] {
			if err := p.be.Delete(ctx, anc.ValueKey()); err != nil {
				return nil, err
			}
		}
	}

	var expiry time.Duration
	if ttl != nil {
		expiry = truncateTTL(*ttl)
	}

	// Clearing the subtree before writing discharges invariant 3 upward: a
	// scalar write at K must remove every descendant of K, exactly as a
	// mapping write replaces K's subtree wholesale.
	if err := p.clearSubtree(ctx, key); err != nil {
		return nil, err
	}

	if mapping, ok := value.(map[string]interface{}); ok {
		for _, leaf := range treepath.Flatten(mapping, nil) {
			leafKey := key
			if len(leaf.Key) > 0 {
				leafKey = key + "." + leaf.Key.String()
			}
			encoded, err := json.Marshal(leaf.Value)
			if err != nil {
				return nil, fmt.Errorf("redicts: encoding value at %q: %w", leafKey, err)
			}
			if err := p.be.Set(ctx, leafKey, string(encoded), expiry); err != nil {
				return nil, err
			}
		}
	} else {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("redicts: encoding value at %q: %w", key, err)
		}
		if err := p.be.Set(ctx, key, string(encoded), expiry); err != nil {
			return nil, err
		}
	}

	return p.childProxy(target)
}

func (p *Proxy) clearSubtree(ctx context.Context, key string) error {
	if err := p.be.Delete(ctx, key); err != nil {
		return err
	}
	children, err := p.be.ScanPrefix(ctx, key+".*")
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return p.be.Delete(ctx, children...)
	}
	return nil
}

func (p *Proxy) childProxy(target treepath.Path) (*Proxy, error) {
	lk, err := lock.New(p.be, target.String(), p.lk.AcquireTimeout(), p.lk.ExpireTimeout(), p.log)
	if err != nil {
		return nil, err
	}
	return &Proxy{path: target, be: p.be, lk: lk, log: p.log}, nil
}

// Get returns a proxy for sub relative to this proxy's path, without
// reading or writing anything.
func (p *Proxy) Get(sub string) (*Proxy, error) {
	target, err := p.subPath(sub)
	if err != nil {
		return nil, err
	}
	return p.childProxy(target)
}

// Delete clears the subtree at sub (relative to this proxy's path).
func (p *Proxy) Delete(ctx context.Context, sub string) error {
	child, err := p.Get(sub)
	if err != nil {
		return err
	}
	return child.Clear(ctx)
}

// Clear deletes this proxy's own key and every key in its subtree.
func (p *Proxy) Clear(ctx context.Context) error {
	return p.clearSubtree(ctx, p.Key())
}

// IterChildren returns a proxy for every key directly or transitively
// present under this proxy's subtree, in backend scan order.
func (p *Proxy) IterChildren(ctx context.Context) ([]*Proxy, error) {
	keys, err := p.be.ScanPrefix(ctx, p.Key()+".*")
	if err != nil {
		return nil, err
	}

	prefix := p.Key() + "."
	out := make([]*Proxy, 0, len(keys))
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		target, err := p.path.Join(rel)
		if err != nil {
			return nil, err
		}
		child, err := p.childProxy(target)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

// Add increments this proxy's numeric value by n, writing n if absent. Add
// performs no locking; callers needing atomicity under contention must
// bracket the call with Acquire/Release or WithLock.
func (p *Proxy) Add(ctx context.Context, n float64) (float64, error) {
	exists, err := p.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		if err := p.be.Set(ctx, p.Key(), jsonNumber(n), 0); err != nil {
			return 0, err
		}
		return n, nil
	}

	current, err := p.Val(ctx, nil)
	if err != nil {
		return 0, err
	}
	base, ok := current.(float64)
	if !ok {
		return 0, fmt.Errorf("redicts: cannot add to non-numeric value at %q", p.Key())
	}

	sum := base + n
	if err := p.be.Set(ctx, p.Key(), jsonNumber(sum), 0); err != nil {
		return 0, err
	}
	return sum, nil
}

func jsonNumber(f float64) string {
	encoded, _ := json.Marshal(f)
	return string(encoded)
}

// Expire applies an EXPIRE of seconds to this proxy's own key and every key
// in its subtree.
func (p *Proxy) Expire(ctx context.Context, seconds int) error {
	ttl := time.Duration(seconds) * time.Second

	if err := p.be.Expire(ctx, p.Key(), ttl); err != nil {
		return err
	}
	keys, err := p.be.ScanPrefix(ctx, p.Key()+".*")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := p.be.Expire(ctx, key, ttl); err != nil {
			return err
		}
	}
	return nil
}

// TimeToLive returns the TTL of the first key with an expiry found scanning
// this proxy's subtree (own key first, then children in scan order), or nil
// if no key in the subtree carries an expiry.
func (p *Proxy) TimeToLive(ctx context.Context) (*time.Duration, error) {
	ttl, err := p.be.TTL(ctx, p.Key())
	if err != nil {
		return nil, err
	}
	if ttl != backend.NoSuchKeyTTL && ttl != backend.NoExpiryTTL {
		return &ttl, nil
	}

	keys, err := p.be.ScanPrefix(ctx, p.Key()+".*")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		ttl, err := p.be.TTL(ctx, key)
		if err != nil {
			return nil, err
		}
		if ttl != backend.NoSuchKeyTTL && ttl != backend.NoExpiryTTL {
			return &ttl, nil
		}
	}
	return nil, nil
}

// Equal compares this proxy's and other's currently-stored values. The two
// reads happen independently and are not atomic with respect to each other.
func (p *Proxy) Equal(ctx context.Context, other *Proxy) (bool, error) {
	a, err := p.Val(ctx, nil)
	if err != nil {
		return false, err
	}
	b, err := other.Val(ctx, nil)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(a, b), nil
}

// Acquire acquires this proxy's embedded lock.
func (p *Proxy) Acquire(ctx context.Context) error { return p.lk.Acquire(ctx) }

// Release releases this proxy's embedded lock.
func (p *Proxy) Release(ctx context.Context) error { return p.lk.Release(ctx) }

// IsLocked reports whether this proxy's path or an ancestor is locked.
func (p *Proxy) IsLocked(ctx context.Context) (bool, error) { return p.lk.IsLocked(ctx) }

// WithLock acquires this proxy's lock, runs fn, and releases the lock
// regardless of fn's outcome, matching the "all proxy operations are usable
// as scoped acquisitions" contract.
func (p *Proxy) WithLock(ctx context.Context, fn func(context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer func() { _ = p.Release(ctx) }()
	return fn(ctx)
}
