package config

// Config is the top-level YAML structure for one migration run.
type Config struct {
	Source      SourceConf   `yaml:"source"`
	Destination DestConf     `yaml:"destination"`
	Events      EventsConf   `yaml:"events"`
	Time        TimeConf     `yaml:"time"`
	Identity    IdentityConf `yaml:"identity"`
	Usage       UsageConf    `yaml:"usage"`
	Delivery    DeliveryConf `yaml:"delivery"`
	Report      ReportConf   `yaml:"report"`
	DryRun      bool         `yaml:"dry_run"`
}

// SourceConf points at the raw event stream: either a local export file or
// the export API window.
type SourceConf struct {
	ExportPath  string `yaml:"export_path"`
	APIKey      string `yaml:"api_key"`
	SecretKey   string `yaml:"secret_key"`
	Region      string `yaml:"region"` // "US" | "EU"
	ExportStart string `yaml:"export_start"`
	ExportEnd   string `yaml:"export_end"`
}

// DestConf identifies the destination ingestion endpoint.
type DestConf struct {
	APIKey   string `yaml:"api_key"`
	Region   string `yaml:"region"`   // "US" | "EU"
	Endpoint string `yaml:"endpoint"` // overrides Region when set
}

// EventsConf is the declarative rule set applied to every event.
type EventsConf struct {
	Allowlist      []string                     `yaml:"allowlist"`
	Denylist       []string                     `yaml:"denylist"`
	Rename         map[string]string            `yaml:"rename"`
	RenameRules    []RenameRule                 `yaml:"rename_rules"`
	PropertyKeep   map[string][]string          `yaml:"property_keep"`
	PropertyRename map[string]map[string]string `yaml:"property_rename"`
	PropertyDeny   map[string][]string          `yaml:"property_deny"`

	// ConstProperties and DerivedProperties use the three-scope layout:
	// legacy flat keys, a "*" object, and per-event-type objects. Their
	// shapes are heterogeneous, so they stay untyped here and are resolved
	// into scoped rules by rules.Compile.
	ConstProperties   map[string]any `yaml:"const_properties"`
	DerivedProperties map[string]any `yaml:"derived_properties"`
}

// RenameRule renames the event type when its condition tree matches the
// original raw event. First satisfied rule wins.
type RenameRule struct {
	When     map[string]any `yaml:"when"`
	RenameTo string         `yaml:"rename_to"`
}

// TimeConf selects the authoritative-time strategy.
type TimeConf struct {
	Strategy                  string `yaml:"strategy"`
	MissingPolicy             string `yaml:"missing_policy"` // "drop" | "now"
	OriginalTimesAsProperties bool   `yaml:"original_times_as_properties"`
}

// IdentityConf controls forced identifiers and the remap tables.
type IdentityConf struct {
	ForceUserID    *string `yaml:"force_user_id"`
	ForceDeviceID  *string `yaml:"force_device_id"`
	UserMapPath    string  `yaml:"user_map_path"`
	DeviceMapPath  string  `yaml:"device_map_path"`
	RemapScope     string  `yaml:"remap_scope"`     // "user_id" | "device_id" | "both"
	UnmappedPolicy string  `yaml:"unmapped_policy"` // "keep" | "drop"
}

// UsageConf configures the monthly-tracked-unit estimate.
type UsageConf struct {
	Strategy       string  `yaml:"strategy"` // "user_id" | "device_id" | "union"
	RateUSD        float64 `yaml:"rate_usd"`
	ExcludeNullIDs *bool   `yaml:"exclude_null_ids"`
}

// DeliveryConf tunes batching and retry behaviour.
type DeliveryConf struct {
	BatchSize       int     `yaml:"batch_size"`
	RequestTimeoutS int     `yaml:"request_timeout_s"`
	MaxRetries      int     `yaml:"max_retries"`
	BackoffBaseS    float64 `yaml:"backoff_base_s"`
	AssignInsertIDs *bool   `yaml:"assign_insert_ids"`
}

// ReportConf controls the run-report output.
type ReportConf struct {
	Dir         string `yaml:"dir"`
	SampleLimit int    `yaml:"sample_limit"`
}

// ExcludeNullIDs returns the usage null-exclusion flag, defaulting to true.
func (u UsageConf) ExcludeNull() bool {
	return u.ExcludeNullIDs == nil || *u.ExcludeNullIDs
}

// AssignInsertIDsEnabled returns the insert_id flag, defaulting to true.
func (d DeliveryConf) AssignInsertIDsEnabled() bool {
	return d.AssignInsertIDs == nil || *d.AssignInsertIDs
}
