package cas

import (
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Cache is a running cache instance as listed by casadm.
type Cache struct {
	ID     int
	Device string
	Status string
	Mode   string
}

// Casadm administers caches through the casadm utility.
type Casadm struct {
	Exec   Runner
	Logger zerolog.Logger
}

const listCachesCommand = "casadm --list-caches --output-format csv"

// ListCaches returns the running caches.
func (c *Casadm) ListCaches(ctx context.Context) ([]Cache, error) {
	out, err := run(ctx, c.Exec, listCachesCommand)
	if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	return parseCacheList(out.Stdout)
}

// StopAllCaches stops every running cache. The first failure is returned.
func (c *Casadm) StopAllCaches(ctx context.Context) error {
	caches, err := c.ListCaches(ctx)
	if err != nil {
		return err
	}
	for _, cache := range caches {
		c.Logger.Info().Int("cache_id", cache.ID).Str("device", cache.Device).Msg("Stopping cache")
		if _, err := run(ctx, c.Exec, fmt.Sprintf("casadm --stop-cache --cache-id %d", cache.ID)); err != nil {
			return fmt.Errorf("failed to stop cache %d: %w", cache.ID, err)
		}
	}
	return nil
}

// parseCacheList parses the csv listing of casadm. Only "cache" rows are
// returned; core rows are skipped. casadm prints a plain message instead of
// csv when nothing is running.
func parseCacheList(output string) ([]Cache, error) {
	output = strings.TrimSpace(output)
	if output == "" || strings.HasPrefix(output, "No caches running") {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(output))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse cache list: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// type,id,disk,status,write policy,device
	var caches []Cache
	for _, rec := range records[1:] {
		if len(rec) < 4 || rec[0] != "cache" {
			continue
		}
		id, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("invalid cache id %q: %w", rec[1], err)
		}
		cache := Cache{ID: id, Device: rec[2], Status: rec[3]}
		if len(rec) > 4 {
			cache.Mode = rec[4]
		}
		caches = append(caches, cache)
	}
	return caches, nil
}
