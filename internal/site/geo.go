package site

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// GeoProvider resolves an IP to an ISO country code.
type GeoProvider interface {
	Country(ip string) (string, error)
	Close() error
}

// MaxMindGeo reads a GeoLite2/GeoIP2 Country or City database.
type MaxMindGeo struct {
	reader *maxminddb.Reader
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// NewMaxMindGeo opens the database at path.
func NewMaxMindGeo(path string) (*MaxMindGeo, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindGeo{reader: reader}, nil
}

// Country returns the ISO code for ip, or "" when the database has no entry.
func (m *MaxMindGeo) Country(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}
	var rec countryRecord
	if err := m.reader.Lookup(parsed, &rec); err != nil {
		return "", err
	}
	return rec.Country.ISOCode, nil
}

// Close closes the database.
func (m *MaxMindGeo) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}

// CachedGeo memoizes lookups of another provider.
type CachedGeo struct {
	provider GeoProvider

	mu      sync.RWMutex
	data    map[string]geoEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type geoEntry struct {
	country   string
	expiresAt time.Time
}

// NewCachedGeo wraps provider with a bounded TTL cache.
func NewCachedGeo(provider GeoProvider, maxSize int, ttl time.Duration) *CachedGeo {
	return &CachedGeo{
		provider: provider,
		data:     make(map[string]geoEntry),
		maxSize:  maxSize,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (c *CachedGeo) Country(ip string) (string, error) {
	c.mu.RLock()
	e, ok := c.data[ip]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.country, nil
	}

	country, err := c.provider.Country(ip)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Evict an arbitrary entry at capacity.
	if len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}
	c.data[ip] = geoEntry{country: country, expiresAt: c.now().Add(c.ttl)}
	return country, nil
}

func (c *CachedGeo) Close() error {
	return c.provider.Close()
}
