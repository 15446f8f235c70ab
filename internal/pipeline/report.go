package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

// Report is the JSON run summary written after every migration run.
type Report struct {
	StartedAt  float64 `json:"started_at"`
	EndedAt    float64 `json:"ended_at"`
	DurationS  float64 `json:"duration_s"`
	ReportPath string  `json:"report_path,omitempty"`

	Source      ReportSource      `json:"source"`
	Destination ReportDestination `json:"destination"`
	Counters    map[string]any    `json:"counters"`
	MTU         MTUSummary        `json:"mtu"`
	IDRemap     IDRemapSummary    `json:"id_remap"`
	Samples     SamplesSummary    `json:"samples"`
	Settings    SettingsSummary   `json:"settings"`
}

type ReportSource struct {
	Region      string `json:"region"`
	ExportStart string `json:"export_start,omitempty"`
	ExportEnd   string `json:"export_end,omitempty"`
	ExportPath  string `json:"export_path,omitempty"`
}

type ReportDestination struct {
	Region string `json:"region"`
}

type MTUSummary struct {
	UniqueUserIDs    int     `json:"unique_user_ids"`
	UniqueDeviceIDs  int     `json:"unique_device_ids"`
	Strategy         string  `json:"strategy"`
	RateUSD          float64 `json:"rate_usd"`
	Estimate         int     `json:"estimate"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

type IDRemapSummary struct {
	Enabled        bool   `json:"enabled"`
	UserMapPath    string `json:"user_map_path,omitempty"`
	DeviceMapPath  string `json:"device_map_path,omitempty"`
	Scope          string `json:"scope"`
	UnmappedPolicy string `json:"unmapped_policy"`
}

type SamplesSummary struct {
	Limit  int                       `json:"limit"`
	Count  int                       `json:"count"`
	Events []*event.TransformedEvent `json:"events"`
}

// SettingsSummary echoes the rule configuration that shaped the run, so a
// report is interpretable without the config file it ran with.
type SettingsSummary struct {
	DryRun                    bool     `json:"dry_run"`
	BatchSize                 int      `json:"batch_size"`
	TimeStrategy              string   `json:"time_strategy"`
	MissingTimePolicy         string   `json:"missing_time_policy"`
	OriginalTimesAsProperties bool     `json:"original_times_as_properties"`
	Allowlist                 []string `json:"allowlist"`
	Denylist                  []string `json:"denylist"`
	RenameCount               int      `json:"rename_count"`
	RenameRulesCount          int      `json:"rename_rules_count"`
	ConstProperties           []string `json:"const_properties"`
	DerivedProperties         []string `json:"derived_properties"`
}

func settingsFrom(cfg *config.Config) SettingsSummary {
	return SettingsSummary{
		DryRun:                    cfg.DryRun,
		BatchSize:                 cfg.Delivery.BatchSize,
		TimeStrategy:              cfg.Time.Strategy,
		MissingTimePolicy:         cfg.Time.MissingPolicy,
		OriginalTimesAsProperties: cfg.Time.OriginalTimesAsProperties,
		Allowlist:                 emptyIfNil(cfg.Events.Allowlist),
		Denylist:                  emptyIfNil(cfg.Events.Denylist),
		RenameCount:               len(cfg.Events.Rename),
		RenameRulesCount:          len(cfg.Events.RenameRules),
		ConstProperties:           sortedKeys(cfg.Events.ConstProperties),
		DerivedProperties:         sortedKeys(cfg.Events.DerivedProperties),
	}
}

// WriteFile writes the report as run-YYYYMMDD-HHMMSS.json (UTC, from the end
// timestamp) under dir, creating it as needed, and records the path on the
// report itself.
func (r *Report) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	ended := time.Unix(int64(r.EndedAt), 0).UTC()
	path := filepath.Join(dir, ended.Format("run-20060102-150405.json"))
	r.ReportPath = path

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
