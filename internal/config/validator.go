package config

import (
	"fmt"
	"strings"
)

var (
	validTimeStrategies = map[string]bool{
		"client":                                 true,
		"server_received":                        true,
		"server_upload":                          true,
		"prefer_client_fallback_server_received": true,
		"prefer_client_fallback_server_upload":   true,
	}
	validRegions         = map[string]bool{"US": true, "EU": true}
	validRemapScopes     = map[string]bool{"user_id": true, "device_id": true, "both": true}
	validUnmappedPolicy  = map[string]bool{"keep": true, "drop": true}
	validMissingPolicy   = map[string]bool{"drop": true, "now": true}
	validUsageStrategies = map[string]bool{"user_id": true, "device_id": true, "union": true}
)

// Validate checks the config for missing required fields and out-of-range
// enum values, collecting every problem into one error.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Source.ExportPath == "" {
		if cfg.Source.APIKey == "" || cfg.Source.SecretKey == "" {
			errs = append(errs, "source: set export_path, or api_key and secret_key for the export API")
		}
		if cfg.Source.ExportStart == "" || cfg.Source.ExportEnd == "" {
			errs = append(errs, "source: export_start and export_end are required without export_path")
		}
	}
	if !validRegions[strings.ToUpper(cfg.Source.Region)] {
		errs = append(errs, fmt.Sprintf("source: unknown region %q", cfg.Source.Region))
	}

	if !cfg.DryRun && cfg.Destination.APIKey == "" {
		errs = append(errs, "destination: api_key is required unless dry_run is set")
	}
	if cfg.Destination.Endpoint == "" && !validRegions[strings.ToUpper(cfg.Destination.Region)] {
		errs = append(errs, fmt.Sprintf("destination: unknown region %q", cfg.Destination.Region))
	}

	if !validTimeStrategies[cfg.Time.Strategy] {
		errs = append(errs, fmt.Sprintf("time: unknown strategy %q", cfg.Time.Strategy))
	}
	if !validMissingPolicy[cfg.Time.MissingPolicy] {
		errs = append(errs, fmt.Sprintf("time: unknown missing_policy %q", cfg.Time.MissingPolicy))
	}

	if !validRemapScopes[cfg.Identity.RemapScope] {
		errs = append(errs, fmt.Sprintf("identity: unknown remap_scope %q", cfg.Identity.RemapScope))
	}
	if !validUnmappedPolicy[cfg.Identity.UnmappedPolicy] {
		errs = append(errs, fmt.Sprintf("identity: unknown unmapped_policy %q", cfg.Identity.UnmappedPolicy))
	}

	if !validUsageStrategies[cfg.Usage.Strategy] {
		errs = append(errs, fmt.Sprintf("usage: unknown strategy %q", cfg.Usage.Strategy))
	}
	if cfg.Usage.RateUSD < 0 {
		errs = append(errs, "usage: rate_usd must not be negative")
	}

	if cfg.Delivery.BatchSize < 1 {
		errs = append(errs, "delivery: batch_size must be at least 1")
	}
	if cfg.Delivery.MaxRetries < 1 {
		errs = append(errs, "delivery: max_retries must be at least 1")
	}
	if cfg.Delivery.BackoffBaseS <= 0 {
		errs = append(errs, "delivery: backoff_base_s must be positive")
	}

	for i, rule := range cfg.Events.RenameRules {
		if rule.RenameTo == "" {
			errs = append(errs, fmt.Sprintf("events.rename_rules[%d]: rename_to is required", i))
		}
		if len(rule.When) == 0 {
			errs = append(errs, fmt.Sprintf("events.rename_rules[%d]: when must not be empty", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
