package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/walletmesh/bridge/internal/wallet"
)

// Config contains configuration for the wallet directory.
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	Bucket    string        `yaml:"bucket"`
	ObjectKey string        `yaml:"object_key"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	UseSSL    bool          `yaml:"use_ssl"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

func (c Config) withDefaults() Config {
	if c.ObjectKey == "" {
		c.ObjectKey = "wallets/manifest.json"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Entry describes a known wallet in the directory manifest.
type Entry struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Icon      string           `json:"icon"`
	ChainType wallet.ChainType `json:"chain_type"`
	Homepage  string           `json:"homepage,omitempty"`
	Flags     []string         `json:"flags,omitempty"`
}

// Manifest is the directory document stored in the bucket.
type Manifest struct {
	Version string  `json:"version"`
	Wallets []Entry `json:"wallets"`
}

// Directory loads the wallet manifest from object storage and caches it
// in memory. When storage is unreachable it serves a built-in static
// table so lookups keep working in degraded mode.
type Directory struct {
	cfg    Config
	client *minio.Client
	logger *slog.Logger

	cacheMu   sync.RWMutex
	cached    *Manifest
	fetchedAt time.Time
	degraded  bool
}

// NewDirectory creates a wallet directory backed by S3/MinIO.
func NewDirectory(cfg Config, logger *slog.Logger) (*Directory, error) {
	cfg = cfg.withDefaults()

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Directory{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "wallet-directory"),
	}, nil
}

// NewStaticDirectory creates a directory that only serves the built-in
// table. Used when object storage is not configured.
func NewStaticDirectory(logger *slog.Logger) *Directory {
	return &Directory{
		cfg:      Config{}.withDefaults(),
		logger:   logger.With("component", "wallet-directory"),
		degraded: true,
	}
}

// Manifest returns the current directory manifest, refreshing the cache
// when it is older than the configured TTL. Lookups never fail: on
// storage errors the last good manifest or the static table is served.
func (d *Directory) Manifest(ctx context.Context) *Manifest {
	d.cacheMu.RLock()
	cached, fetchedAt := d.cached, d.fetchedAt
	d.cacheMu.RUnlock()

	if cached != nil && time.Since(fetchedAt) < d.cfg.CacheTTL {
		return cached
	}

	if d.client == nil {
		return staticManifest()
	}

	fresh, err := d.fetch(ctx)
	if err != nil {
		d.logger.Warn("failed to refresh wallet manifest, serving degraded table",
			"bucket", d.cfg.Bucket,
			"key", d.cfg.ObjectKey,
			"error", err,
		)
		d.cacheMu.Lock()
		d.degraded = true
		d.cacheMu.Unlock()
		if cached != nil {
			return cached
		}
		return staticManifest()
	}

	d.cacheMu.Lock()
	d.cached = fresh
	d.fetchedAt = time.Now()
	d.degraded = false
	d.cacheMu.Unlock()

	d.logger.Debug("refreshed wallet manifest",
		"version", fresh.Version,
		"wallets", len(fresh.Wallets),
	)
	return fresh
}

// Lookup finds a directory entry by reverse-DNS wallet ID.
func (d *Directory) Lookup(ctx context.Context, walletID string) (Entry, bool) {
	for _, e := range d.Manifest(ctx).Wallets {
		if e.ID == walletID {
			return e, true
		}
	}
	return Entry{}, false
}

// ByChain returns the directory entries supporting the given chain type.
func (d *Directory) ByChain(ctx context.Context, chain wallet.ChainType) []Entry {
	var out []Entry
	for _, e := range d.Manifest(ctx).Wallets {
		if e.ChainType == chain {
			out = append(out, e)
		}
	}
	return out
}

// Degraded reports whether the directory is currently serving the
// static fallback table instead of a fetched manifest.
func (d *Directory) Degraded() bool {
	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	return d.degraded
}

// Invalidate drops the cached manifest so the next read refetches.
func (d *Directory) Invalidate() {
	d.cacheMu.Lock()
	d.cached = nil
	d.fetchedAt = time.Time{}
	d.cacheMu.Unlock()
}

func (d *Directory) fetch(ctx context.Context) (*Manifest, error) {
	obj, err := d.client.GetObject(ctx, d.cfg.Bucket, d.cfg.ObjectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get manifest object: %w", err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, fmt.Errorf("failed to read manifest object: %w", err)
	}

	return ParseManifest(buf.Bytes())
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	for i, e := range m.Wallets {
		if e.ID == "" || e.Name == "" {
			return nil, fmt.Errorf("manifest wallet %d missing id or name", i)
		}
	}
	return &m, nil
}

// staticManifest is the built-in fallback served when object storage is
// unreachable or unconfigured.
func staticManifest() *Manifest {
	return &Manifest{
		Version: "builtin",
		Wallets: []Entry{
			{ID: "io.metamask", Name: "MetaMask", ChainType: wallet.ChainTypeEVM, Flags: []string{"isMetaMask"}},
			{ID: "io.rabby", Name: "Rabby Wallet", ChainType: wallet.ChainTypeEVM, Flags: []string{"isRabby"}},
			{ID: "com.coinbase.wallet", Name: "Coinbase Wallet", ChainType: wallet.ChainTypeEVM, Flags: []string{"isCoinbaseWallet"}},
			{ID: "com.brave.wallet", Name: "Brave Wallet", ChainType: wallet.ChainTypeEVM, Flags: []string{"isBraveWallet"}},
			{ID: "app.phantom", Name: "Phantom", ChainType: wallet.ChainTypeSolana},
			{ID: "com.solflare", Name: "Solflare", ChainType: wallet.ChainTypeSolana},
		},
	}
}
