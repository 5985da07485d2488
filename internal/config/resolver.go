package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/tgmonitor/internal/core"
)

// loadOrder ranks module namespaces so that service providers are
// provisioned before their consumers. Unlisted namespaces load last.
var loadOrder = map[string]int{
	"store":   0,
	"session": 1,
	"engine":  2,
	"gateway": 3,
}

func rank(id string) int {
	if r, ok := loadOrder[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return len(loadOrder)
}

// Resolve returns the configured module IDs in load order: by namespace
// rank, then alphabetically.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}
