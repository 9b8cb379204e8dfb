package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config configures a Pool. Every field has a documented default; missing
// (zero-value) fields take that default when the pool is created or
// reloaded.
type Config struct {
	Host           string         // default "localhost"
	Port           int            // default 6379
	Database       int            // default 0
	Names          map[string]int // database index by logical name
	Password       string         // default: no password
	MaxConnections int            // default 100
	TimeoutSecs    int            // default 50
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6379,
		Database:       0,
		MaxConnections: 100,
		TimeoutSecs:    50,
	}
}

func (c Config) withDefaults() Config {
	out := c
	if out.Host == "" {
		out.Host = "localhost"
	}
	if out.Port == 0 {
		out.Port = 6379
	}
	if out.MaxConnections == 0 {
		out.MaxConnections = 100
	}
	if out.TimeoutSecs == 0 {
		out.TimeoutSecs = 50
	}
	return out
}

// Pool is a connection-pooling façade over one or more named Redis
// databases, reusable across Lock and Proxy instances. Unknown database
// names silently fall back to the default database (spec behavior,
// preserved intentionally — see DESIGN.md).
type Pool struct {
	mu         sync.Mutex
	cfg        Config
	clients    map[string]*redis.Client
	generation uuid.UUID
	log        *zap.Logger
}

// NewPool creates a new pool. A nil logger disables pool logging.
func NewPool(cfg Config, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		cfg:        cfg.withDefaults(),
		clients:    map[string]*redis.Client{},
		generation: uuid.New(),
		log:        log.Named("pool"),
	}
}

// Reload disconnects every existing connection and rebuilds the pool under
// cfg. In-flight operations against the old connections may see transient
// errors until they pick up a fresh connection from GetConnection.
func (p *Pool) Reload(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, client := range p.clients {
		if err := client.Close(); err != nil {
			p.log.Warn("error closing connection during reload",
				zap.String("db_name", name), zap.Error(err))
		}
	}

	p.cfg = cfg.withDefaults()
	p.clients = map[string]*redis.Client{}
	p.generation = uuid.New()

	p.log.Info("pool reloaded", zap.String("generation", p.generation.String()))
}

// GetConnection returns a Backend for the named logical database, creating
// the underlying client lazily. An empty name selects the default
// database. A name not present in Config.Names falls back to the default
// database rather than erroring.
func (p *Pool) GetConnection(name string) Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[name]; ok {
		return New(client)
	}

	dbID := p.cfg.Database
	if name != "" {
		if id, ok := p.cfg.Names[name]; ok {
			dbID = id
		} else {
			p.log.Warn("unknown database name, falling back to default database",
				zap.String("db_name", name), zap.Int("default_db", dbID))
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port),
		Password:    p.cfg.Password,
		DB:          dbID,
		PoolSize:    p.cfg.MaxConnections,
		DialTimeout: time.Duration(p.cfg.TimeoutSecs) * time.Second,
	})
	p.clients[name] = client

	return New(client)
}

// Close closes every connection the pool has opened.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, client := range p.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
