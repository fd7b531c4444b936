package provider

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
)

// Capabilities records what a provider/model combination tolerates.
// Some backends reject sampling parameters outright (temperature being
// the usual offender); the first rejection is memoized here so every
// later call skips the parameter instead of failing and retrying.
//
// Capabilities are process-lifetime: they don't change at runtime, so
// there is no invalidation.
type Capabilities struct {
	RejectsTemperature bool
}

// CapabilityCache is a small bounded memo keyed by provider+model.
type CapabilityCache struct {
	cache *ristretto.Cache
}

// NewCapabilityCache builds the memo. Sizing is generous: a process
// talks to a handful of provider/model pairs at most.
func NewCapabilityCache() (*CapabilityCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 10,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create capability cache: %w", err)
	}
	return &CapabilityCache{cache: c}, nil
}

func capabilityKey(providerName, model string) string {
	return providerName + "/" + model
}

// Lookup returns the recorded capabilities for a provider/model pair.
func (c *CapabilityCache) Lookup(providerName, model string) (Capabilities, bool) {
	v, ok := c.cache.Get(capabilityKey(providerName, model))
	if !ok {
		return Capabilities{}, false
	}
	caps, ok := v.(Capabilities)
	return caps, ok
}

// MarkRejectsTemperature records that the pair refused a temperature
// setting. Wait flushes ristretto's buffers so the very next Lookup
// already sees the entry.
func (c *CapabilityCache) MarkRejectsTemperature(providerName, model string) {
	caps, _ := c.Lookup(providerName, model)
	caps.RejectsTemperature = true
	c.cache.Set(capabilityKey(providerName, model), caps, 1)
	c.cache.Wait()
}

// IsTemperatureRejection reports whether an API error looks like a
// refused temperature parameter.
func IsTemperatureRejection(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "temperature")
}
