package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// TickerGroups is the static catalogue mapping group names (banks, steel,
// tech, ...) to the symbols the worker keeps fresh.
type TickerGroups map[string][]string

// LoadTickerGroups reads the catalogue JSON. The file is required for core
// nodes; followers inherit symbols from their core node instead.
func LoadTickerGroups(path string) (TickerGroups, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ticker group file %s: %w", path, err)
	}
	var groups TickerGroups
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse ticker group file %s: %w", path, err)
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("ticker group file %s defines no groups", path)
	}
	return groups, nil
}

// AllSymbols returns the deduplicated union of every group, uppercased and
// sorted. The worker shuffles this set each cycle.
func (g TickerGroups) AllSymbols() []string {
	seen := make(map[string]struct{})
	for _, symbols := range g {
		for _, s := range symbols {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				seen[s] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
