package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
	"github.com/gyaneshwarpardhi/eventshift/internal/dispatch"
	"github.com/gyaneshwarpardhi/eventshift/internal/event"
	"github.com/gyaneshwarpardhi/eventshift/internal/source"
)

type fakeSender struct {
	batches  [][]*event.TransformedEvent
	failFrom int // 1-based send index that starts failing; 0 = never
}

func (f *fakeSender) Send(ctx context.Context, events []*event.TransformedEvent) (dispatch.Ack, error) {
	if f.failFrom > 0 && len(f.batches)+1 >= f.failFrom {
		return nil, errors.New("destination unavailable")
	}
	batch := make([]*event.TransformedEvent, len(events))
	copy(batch, events)
	f.batches = append(f.batches, batch)
	return dispatch.Ack{"code": float64(200)}, nil
}

func baseConfig() *config.Config {
	return &config.Config{
		Source:      config.SourceConf{Region: "US", ExportPath: "export.json"},
		Destination: config.DestConf{APIKey: "dest-key", Region: "US"},
		Events: config.EventsConf{
			PropertyKeep: map[string][]string{"*": {"*"}},
		},
		Time: config.TimeConf{
			Strategy:      "client",
			MissingPolicy: "drop",
		},
		Identity: config.IdentityConf{RemapScope: "user_id", UnmappedPolicy: "keep"},
		Usage:    config.UsageConf{Strategy: "union"},
		Delivery: config.DeliveryConf{BatchSize: 2, RequestTimeoutS: 30, MaxRetries: 5, BackoffBaseS: 1.5},
		Report:   config.ReportConf{Dir: "migration_runs", SampleLimit: 2},
	}
}

func iterFrom(events ...map[string]any) Iterator {
	return func(fn source.EventFunc) error {
		for _, m := range events {
			if err := fn(event.FromMap(m)); err != nil {
				return err
			}
		}
		return nil
	}
}

func rawEvent(et, userID string, timeMs int64) map[string]any {
	return map[string]any{
		"event_type": et,
		"user_id":    userID,
		"time":       timeMs,
	}
}

func newTestRunner(t *testing.T, cfg *config.Config, sender *fakeSender) *Runner {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	return r.WithSender(sender).WithClock(func() time.Time {
		return time.Unix(1700000000, 0).UTC()
	})
}

func TestRunBatchesAndRemainder(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRunner(t, baseConfig(), sender)

	rep, err := r.Run(context.Background(), iterFrom(
		rawEvent("a", "u1", 1000),
		rawEvent("b", "u2", 2000),
		rawEvent("c", "u3", 3000),
		rawEvent("d", "u4", 4000),
		rawEvent("e", "u5", 5000),
	))
	require.NoError(t, err)

	// Batch size 2 over 5 events: two full batches plus the remainder.
	require.Len(t, sender.batches, 3)
	require.Equal(t, []int{2, 2, 1}, rep.Counters["batches"])
	require.Equal(t, 5, rep.Counters["events_read"])
	require.Equal(t, 5, rep.Counters["events_kept"])
	require.Equal(t, 5, rep.Counters["events_sent"])

	// Every delivered event carries a generated insert_id.
	for _, batch := range sender.batches {
		for _, evt := range batch {
			require.NotEmpty(t, evt.InsertID())
		}
	}

	// Samples respect the limit and were captured before insert_id
	// assignment.
	require.Equal(t, 2, rep.Samples.Count)
	require.Empty(t, rep.Samples.Events[0].InsertID())

	require.Equal(t, 5, rep.MTU.Estimate)
}

func TestRunDryRunSendsNothing(t *testing.T) {
	cfg := baseConfig()
	cfg.DryRun = true
	sender := &fakeSender{}
	r := newTestRunner(t, cfg, sender)

	rep, err := r.Run(context.Background(), iterFrom(
		rawEvent("a", "u1", 1000),
		rawEvent("b", "u2", 2000),
	))
	require.NoError(t, err)
	require.Empty(t, sender.batches)
	require.Equal(t, 2, rep.Counters["events_kept"])
	require.Equal(t, 0, rep.Counters["events_sent"])
	require.Equal(t, 2, rep.Samples.Count)
}

func TestRunDropCountersByReason(t *testing.T) {
	cfg := baseConfig()
	cfg.Events.Denylist = []string{"noise"}
	sender := &fakeSender{}
	r := newTestRunner(t, cfg, sender)

	rep, err := r.Run(context.Background(), iterFrom(
		rawEvent("noise", "u1", 1000),
		map[string]any{"event_type": "no_time", "user_id": "u2"},
		rawEvent("keep", "u3", 3000),
	))
	require.NoError(t, err)
	require.Equal(t, 3, rep.Counters["events_read"])
	require.Equal(t, 1, rep.Counters["events_kept"])
	require.Equal(t, 1, rep.Counters["events_dropped_filtered"])
	require.Equal(t, 1, rep.Counters["events_dropped_no_timestamp"])
}

func TestRunUserPropertiesFallback(t *testing.T) {
	sender := &fakeSender{}
	r := newTestRunner(t, baseConfig(), sender)

	withProps := rawEvent("login", "u1", 1000)
	withProps["user_properties"] = map[string]any{"plan": "pro"}

	_, err := r.Run(context.Background(), iterFrom(
		withProps,
		rawEvent("click", "u1", 2000),
		rawEvent("click", "u2", 3000),
	))
	require.NoError(t, err)

	require.Len(t, sender.batches, 2)
	sent := append(sender.batches[0], sender.batches[1]...)
	require.Len(t, sent, 3)

	// The second u1 event carried no user_properties of its own and inherits
	// the last known snapshot; the u2 event has nothing to inherit.
	require.Equal(t, map[string]any{"plan": "pro"}, sent[0].UserProperties)
	require.Equal(t, map[string]any{"plan": "pro"}, sent[1].UserProperties)
	require.Nil(t, sent[2].UserProperties)
}

func TestRunIdentityRemapDrop(t *testing.T) {
	dir := t.TempDir()
	mapPath := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(mapPath, []byte("old_id,new_id\nu1,nu1\n"), 0o644))

	cfg := baseConfig()
	cfg.Identity.UserMapPath = mapPath
	cfg.Identity.UnmappedPolicy = "drop"
	sender := &fakeSender{}
	r := newTestRunner(t, cfg, sender)

	rep, err := r.Run(context.Background(), iterFrom(
		rawEvent("a", "u1", 1000),
		rawEvent("b", "stranger", 2000),
	))
	require.NoError(t, err)

	require.Len(t, sender.batches, 1)
	require.Len(t, sender.batches[0], 1)
	require.Equal(t, "nu1", sender.batches[0][0].UserID)

	require.Equal(t, 1, rep.Counters["events_kept"])
	require.Equal(t, 1, rep.Counters["events_remapped_user_id"])
	require.Equal(t, 1, rep.Counters["events_dropped_unmapped"])
	require.True(t, rep.IDRemap.Enabled)
}

func TestRunDeliveryFailureAbortsWithPartialReport(t *testing.T) {
	sender := &fakeSender{failFrom: 2}
	r := newTestRunner(t, baseConfig(), sender)

	rep, err := r.Run(context.Background(), iterFrom(
		rawEvent("a", "u1", 1000),
		rawEvent("b", "u2", 2000),
		rawEvent("c", "u3", 3000),
		rawEvent("d", "u4", 4000),
	))
	require.Error(t, err)
	require.NotNil(t, rep, "partial report still returned")
	require.Equal(t, 2, rep.Counters["events_sent"])
	require.Equal(t, []int{2}, rep.Counters["batches"])
}
