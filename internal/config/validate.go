package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/tgmonitor/internal/core"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, checks that
// all referenced module IDs exist in the registry and that at most one
// module per exclusive namespace is configured.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	perNamespace := make(map[string][]string)
	for _, id := range Resolve(cfg) {
		ns := core.ModuleID(id).Namespace()
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, unknownModule(id, ns))
			continue
		}
		perNamespace[ns] = append(perNamespace[ns], id)
	}
	for _, ns := range exclusiveNamespaces {
		if ids := perNamespace[ns]; len(ids) > 1 {
			errs = append(errs, fmt.Errorf("config: only one %s module may be configured, got %s", ns, strings.Join(ids, ", ")))
		}
	}

	errs = append(errs, validateLogging(cfg.Logging)...)

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("config: tracing.sample_ratio must be within [0,1], got %v", cfg.Tracing.SampleRatio))
	}

	if rl := cfg.Security.RateLimits; rl.LoginsPerMin < 0 || rl.SendsPerMin < 0 {
		errs = append(errs, errors.New("config: security.rate_limits must not be negative"))
	}

	return errors.Join(errs...)
}

// unknownModule names the compiled-in alternatives of the same namespace,
// which is usually what a typo meant.
func unknownModule(id, ns string) error {
	var known []string
	for _, info := range core.GetModulesByNamespace(ns) {
		known = append(known, string(info.ID))
	}
	if len(known) == 0 {
		return fmt.Errorf("config: unknown module %q", id)
	}
	return fmt.Errorf("config: unknown module %q (available: %s)", id, strings.Join(known, ", "))
}

// exclusiveNamespaces lists module namespaces where only one implementation
// can be active at a time.
var exclusiveNamespaces = []string{"store", "session"}

func validateLogging(l LoggingConfig) []error {
	var errs []error
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: logging.level %q is not one of debug, info, warn, error", l.Level))
	}
	switch l.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format %q is not one of text, json", l.Format))
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		errs = append(errs, errors.New("config: logging rotation limits must not be negative"))
	}
	return errs
}
