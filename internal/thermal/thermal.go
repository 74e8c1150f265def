// Package thermal reads the SoC temperature from sysfs.
package thermal

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultPath is the Raspberry Pi CPU thermal zone.
const DefaultPath = "/sys/class/thermal/thermal_zone0/temp"

// DefaultTTL is how long a reading is reused.
const DefaultTTL = 10 * time.Second

const cacheKey = "temp"

// Reader returns the temperature in degrees Celsius, caching each reading
// for the configured TTL.
type Reader struct {
	path  string
	cache *ttlcache.Cache[string, float64]
	log   *slog.Logger
}

// NewReader creates a reader for the sysfs file at path. A ttl of zero uses
// DefaultTTL.
func NewReader(path string, ttl time.Duration, logger *slog.Logger) *Reader {
	if path == "" {
		path = DefaultPath
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		path: path,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, float64](ttl),
			ttlcache.WithDisableTouchOnHit[string, float64](),
		),
		log: logger.With("component", "thermal"),
	}
}

// Read returns the current temperature, or nil if it cannot be read.
func (r *Reader) Read() *float64 {
	if item := r.cache.Get(cacheKey); item != nil {
		v := item.Value()
		return &v
	}
	v, err := ReadFile(r.path)
	if err != nil {
		r.log.Debug("temperature unavailable", "path", r.path, "error", err)
		return nil
	}
	r.cache.Set(cacheKey, v, ttlcache.DefaultTTL)
	return &v
}

// ReadFile parses a sysfs thermal file holding millidegrees Celsius.
func ReadFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, errors.New("empty thermal reading")
	}
	milli, err := strconv.ParseFloat(line, 64)
	if err != nil {
		return 0, fmt.Errorf("parse thermal reading: %w", err)
	}
	return milli / 1e3, nil
}
