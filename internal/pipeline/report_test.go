package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/event"
)

func fixedReport() *Report {
	return &Report{
		StartedAt: 1700000000,
		EndedAt:   1700000042.5,
		DurationS: 42.5,
		Source: ReportSource{
			Region:     "US",
			ExportPath: "exports/2025-01-01.json.gz",
		},
		Destination: ReportDestination{Region: "EU"},
		Counters: map[string]any{
			"events_read":             10,
			"events_kept":             8,
			"events_sent":             8,
			"batches":                 []int{5, 3},
			"events_dropped_filtered": 2,
		},
		MTU: MTUSummary{
			UniqueUserIDs:    4,
			UniqueDeviceIDs:  3,
			Strategy:         "union",
			RateUSD:          0.0001,
			Estimate:         5,
			EstimatedCostUSD: 0.0005,
		},
		IDRemap: IDRemapSummary{
			Enabled:        false,
			Scope:          "user_id",
			UnmappedPolicy: "keep",
		},
		Samples: SamplesSummary{
			Limit: 20,
			Count: 1,
			Events: []*event.TransformedEvent{{
				EventType:       "signup",
				EventProperties: map[string]any{"plan": "pro"},
				UserID:          "u1",
				Time:            1700000000000,
			}},
		},
		Settings: SettingsSummary{
			DryRun:                    false,
			BatchSize:                 500,
			TimeStrategy:              "client",
			MissingTimePolicy:         "drop",
			OriginalTimesAsProperties: true,
			Allowlist:                 []string{},
			Denylist:                  []string{"debug_ping"},
			RenameCount:               1,
			RenameRulesCount:          0,
			ConstProperties:           []string{"source_system"},
			DerivedProperties:         []string{},
		},
	}
}

func TestReportJSONShape(t *testing.T) {
	data, err := json.MarshalIndent(fixedReport(), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_report", append(data, '\n'))
}

func TestWriteFileNamesReportFromEndTimestamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "runs")
	rep := fixedReport()

	path, err := rep.WriteFile(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "run-20231114-221402.json"), path)
	require.Equal(t, path, rep.ReportPath)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, path, decoded.ReportPath)
	require.Equal(t, 42.5, decoded.DurationS)
}
