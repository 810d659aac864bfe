// Package address resolves symbolic game memory regions to addresses.
package address

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Well-known region names.
const (
	WorldMesData      = "world_mes_data"
	CurrentModule     = "current_module"
	WorldMapType      = "world_map_type"
	ZolomCoords       = "zolom_coords"
	WorldCurrentModel = "world_current_model"
	WorldModels       = "world_models"
)

// ErrUnknownRegion is returned when a region name is not in the table.
var ErrUnknownRegion = errors.New("unknown memory region")

// Address is an absolute address in the target process.
type Address uint64

func (a Address) String() string { return fmt.Sprintf("0x%X", uint64(a)) }

// Resolver maps a logical region name to an address. Callers resolve on every
// use; implementations may change their answer between calls.
type Resolver interface {
	Resolve(region string) (Address, error)
}

// Table is a concurrency-safe, replaceable region table.
type Table struct {
	mu      sync.RWMutex
	regions map[string]Address
}

// NewTable returns a table seeded with the given regions.
func NewTable(regions map[string]Address) *Table {
	t := &Table{regions: make(map[string]Address, len(regions))}
	for k, v := range regions {
		t.regions[normalize(k)] = v
	}
	return t
}

func (t *Table) Resolve(region string) (Address, error) {
	t.mu.RLock()
	a, ok := t.regions[normalize(region)]
	t.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return a, nil
}

// Set adds or overrides one region.
func (t *Table) Set(region string, a Address) {
	t.mu.Lock()
	t.regions[normalize(region)] = a
	t.mu.Unlock()
}

// Replace swaps the whole table, e.g. after a config reload.
func (t *Table) Replace(regions map[string]Address) {
	next := make(map[string]Address, len(regions))
	for k, v := range regions {
		next[normalize(k)] = v
	}
	t.mu.Lock()
	t.regions = next
	t.mu.Unlock()
}

// Names lists the known regions in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.regions))
	for k := range t.regions {
		out = append(out, k)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ParseTable converts config strings ("0xE2A640" or decimal) into addresses.
func ParseTable(raw map[string]string) (map[string]Address, error) {
	out := make(map[string]Address, len(raw))
	for name, s := range raw {
		a, err := Parse(s)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", name, err)
		}
		out[normalize(name)] = a
	}
	return out, nil
}

// Parse reads a single address literal.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty address")
	}
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if v == 0 {
		return 0, fmt.Errorf("invalid address %q: must be non-zero", s)
	}
	return Address(v), nil
}

func normalize(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
