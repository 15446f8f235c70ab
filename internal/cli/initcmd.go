package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultConfigYAML = `# eventshift migration config.
#
# Point source at a local export file, or at the export API with a key,
# secret and time window. Preview the rule set with:
#
#   eventshift preview --config migration.yaml
#
source:
  export_path: exports/export.json.gz
  # api_key: ""
  # secret_key: ""
  # region: US
  # export_start: "20250101T00"
  # export_end: "20250102T00"

destination:
  api_key: ""
  region: US

dry_run: true

events:
  # allowlist: [signup, purchase]
  denylist: []
  rename: {}
  rename_rules: []
  property_keep:
    "*": ["*"]
  property_rename: {}
  property_deny: {}
  const_properties:
    "*":
      migrated: true
  derived_properties: {}

time:
  strategy: prefer_client_fallback_server_received
  missing_policy: drop
  original_times_as_properties: true

identity:
  # user_map_path: mappings/users.csv   # CSV with old_id,new_id columns
  remap_scope: user_id
  unmapped_policy: keep

usage:
  strategy: union
  rate_usd: 0.0

delivery:
  batch_size: 500
  max_retries: 5
  backoff_base_s: 1.5

report:
  dir: migration_runs
  sample_limit: 20
`

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Dir string
}

// NewInitCommand creates the init command: scaffold a migration project
// directory with a starter config.
func NewInitCommand(root *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: root}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a migration project directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Dir, "dir", "d", "migration_project", "directory to scaffold")

	return cmd
}

func runInit(cmd *cobra.Command, opts *InitOptions) error {
	for _, sub := range []string{"", "exports", "migration_runs"} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return fmt.Errorf("scaffold %s: %w", opts.Dir, err)
		}
	}

	cfgPath := filepath.Join(opts.Dir, "migration.yaml")
	created, err := writeIfMissing(cfgPath, []byte(defaultConfigYAML))
	if err != nil {
		return err
	}
	if created {
		cmd.Printf("Created %s\n", cfgPath)
	} else {
		cmd.Printf("Kept existing %s\n", cfgPath)
	}
	cmd.Printf("Next: edit %s, then\n  eventshift preview --config %s\n", cfgPath, cfgPath)
	return nil
}

func writeIfMissing(path string, data []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
