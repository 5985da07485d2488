package core

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	modules   = make(map[string]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule records a compiled-in module under its ModuleInfo ID.
// Intended to be called from init() functions; it panics on an invalid or
// duplicate ID since that is a build mistake, not a runtime condition.
//
// IDs must be "namespace.name": the namespace decides load order and
// which modules exclude each other.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if err := checkModuleID(info.ID); err != nil {
		panic(err.Error())
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	id := string(info.ID)
	if _, exists := modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	modules[id] = info
}

func checkModuleID(id ModuleID) error {
	switch {
	case id == "":
		return errors.New("module ID must not be empty")
	case id.Namespace() == "" || id.Name() == "":
		return fmt.Errorf("module ID %q must have the form namespace.name", id)
	case strings.ContainsAny(string(id), " \t\n"):
		return fmt.Errorf("module ID %q must not contain whitespace", id)
	}
	return nil
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[id]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	return collect(func(string) bool { return true })
}

// GetModulesByNamespace returns the modules of one namespace, sorted by
// ID: "store" yields store.jsonfile and store.sqlite.
func GetModulesByNamespace(namespace string) []ModuleInfo {
	return collect(func(id string) bool {
		return ModuleID(id).Namespace() == namespace
	})
}

func collect(keep func(id string) bool) []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var result []ModuleInfo
	for id, info := range modules {
		if keep(id) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]ModuleInfo)
}
