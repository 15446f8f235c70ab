// Package pipeline orchestrates one migration run: read, transform, remap,
// estimate, batch and deliver, then write the run report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
	"github.com/gyaneshwarpardhi/eventshift/internal/dispatch"
	"github.com/gyaneshwarpardhi/eventshift/internal/event"
	"github.com/gyaneshwarpardhi/eventshift/internal/eventtime"
	"github.com/gyaneshwarpardhi/eventshift/internal/identity"
	"github.com/gyaneshwarpardhi/eventshift/internal/metrics"
	"github.com/gyaneshwarpardhi/eventshift/internal/rules"
	"github.com/gyaneshwarpardhi/eventshift/internal/source"
	"github.com/gyaneshwarpardhi/eventshift/internal/usage"
)

// batchSender delivers one batch of transformed events.
type batchSender interface {
	Send(ctx context.Context, events []*event.TransformedEvent) (dispatch.Ack, error)
}

// Iterator feeds raw events into the run, one callback per event.
type Iterator func(fn source.EventFunc) error

// Runner executes a single migration run sequentially. Everything it owns is
// single-goroutine state.
type Runner struct {
	cfg       *config.Config
	engine    *rules.Engine
	remapper  *identity.Remapper
	estimator *usage.Estimator
	sender    batchSender
	now       func() time.Time

	// Last known user_properties per identity, harvested from the source
	// stream; user-id matches take precedence over device-id matches.
	lastPropsByUserID   map[string]map[string]any
	lastPropsByDeviceID map[string]map[string]any
}

// New assembles a Runner from a validated config: compiles the rule set,
// loads the identity maps, and wires the destination dispatcher.
func New(cfg *config.Config) (*Runner, error) {
	rs := rules.Compile(cfg.Events)
	resolver := eventtime.NewResolver(
		eventtime.Strategy(cfg.Time.Strategy),
		eventtime.MissingPolicy(cfg.Time.MissingPolicy),
	)
	engine := rules.NewEngine(rs, resolver, rules.Options{
		ForceUserID:          cfg.Identity.ForceUserID,
		ForceDeviceID:        cfg.Identity.ForceDeviceID,
		OriginalTimesAsProps: cfg.Time.OriginalTimesAsProperties,
		StrategyName:         cfg.Time.Strategy,
	})

	var userMap, deviceMap map[string]string
	var err error
	if cfg.Identity.UserMapPath != "" {
		if userMap, err = identity.LoadMap(cfg.Identity.UserMapPath); err != nil {
			return nil, fmt.Errorf("load user map: %w", err)
		}
	}
	if cfg.Identity.DeviceMapPath != "" {
		if deviceMap, err = identity.LoadMap(cfg.Identity.DeviceMapPath); err != nil {
			return nil, fmt.Errorf("load device map: %w", err)
		}
	}
	remapper := identity.NewRemapper(
		userMap, deviceMap,
		identity.Scope(cfg.Identity.RemapScope),
		identity.UnmappedPolicy(cfg.Identity.UnmappedPolicy),
	)

	endpoint := cfg.Destination.Endpoint
	if endpoint == "" {
		endpoint = dispatch.EndpointForRegion(cfg.Destination.Region)
	}
	sender := dispatch.New(dispatch.Config{
		Endpoint:    endpoint,
		APIKey:      cfg.Destination.APIKey,
		Timeout:     time.Duration(cfg.Delivery.RequestTimeoutS) * time.Second,
		MaxRetries:  cfg.Delivery.MaxRetries,
		BackoffBase: cfg.Delivery.BackoffBaseS,
	})

	return &Runner{
		cfg:                 cfg,
		engine:              engine,
		remapper:            remapper,
		estimator:           usage.NewEstimator(cfg.Usage.ExcludeNull()),
		sender:              sender,
		now:                 time.Now,
		lastPropsByUserID:   map[string]map[string]any{},
		lastPropsByDeviceID: map[string]map[string]any{},
	}, nil
}

// WithSender replaces the destination sender, for tests.
func (r *Runner) WithSender(s batchSender) *Runner {
	r.sender = s
	return r
}

// WithClock replaces the run clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// SourceIterator builds the raw event iterator the config points at: a local
// export file, or an export API window download.
func SourceIterator(ctx context.Context, cfg *config.Config) (Iterator, error) {
	if cfg.Source.ExportPath != "" {
		path := cfg.Source.ExportPath
		return func(fn source.EventFunc) error {
			return source.EventsFromFile(path, fn)
		}, nil
	}

	client := source.NewExportClient(cfg.Source.APIKey, cfg.Source.SecretKey, cfg.Source.Region, 120*time.Second)
	slog.Info("fetching export", "region", cfg.Source.Region,
		"start", cfg.Source.ExportStart, "end", cfg.Source.ExportEnd)
	blob, err := client.Fetch(ctx, cfg.Source.ExportStart, cfg.Source.ExportEnd)
	if err != nil {
		return nil, err
	}
	slog.Info("export fetched", "bytes", len(blob))
	return func(fn source.EventFunc) error {
		return source.Events(blob, fn)
	}, nil
}

// Run processes every source event through the pipeline and returns the run
// report. A delivery failure aborts the run; the partial report is still
// returned alongside the error.
func (r *Runner) Run(ctx context.Context, iterate Iterator) (*Report, error) {
	started := r.now()
	counters := &RunCounters{}
	samples := []*event.TransformedEvent{}
	sampleLimit := r.cfg.Report.SampleLimit
	assignInsertIDs := r.cfg.Delivery.AssignInsertIDsEnabled()

	var buf []*event.TransformedEvent
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		sendStart := r.now()
		_, err := r.sender.Send(ctx, buf)
		metrics.SendDuration.Observe(float64(r.now().Sub(sendStart).Milliseconds()))
		if err != nil {
			return err
		}
		counters.Sent += len(buf)
		counters.Batches = append(counters.Batches, len(buf))
		metrics.BatchesSent.Inc()
		metrics.EventsSent.Add(float64(len(buf)))
		slog.Info("batch sent", "size", len(buf), "total_sent", counters.Sent)
		buf = buf[:0]
		return nil
	}

	runErr := iterate(func(raw *event.RawEvent) error {
		counters.Read++
		metrics.EventsRead.Inc()

		r.harvestUserProps(raw)
		fallback := r.fallbackUserProps(raw)

		out, reason := r.engine.Transform(raw, fallback)
		if out == nil {
			switch reason {
			case rules.DropFiltered:
				counters.DroppedFiltered++
			case rules.DropNoTimestamp:
				counters.DroppedNoTimestamp++
			}
			metrics.EventsDropped.WithLabelValues(string(reason)).Inc()
			return nil
		}

		if r.remapper.Enabled() && !r.remapper.Remap(out, &counters.Remap) {
			metrics.EventsDropped.WithLabelValues("unmapped").Inc()
			return nil
		}

		if len(samples) < sampleLimit {
			samples = append(samples, out.Clone())
		}

		counters.Kept++
		metrics.EventsKept.Inc()
		r.estimator.Observe(out)

		if r.cfg.DryRun {
			return nil
		}

		if assignInsertIDs && out.InsertID() == "" {
			out.SetInsertID(uuid.NewString())
		}
		buf = append(buf, out)
		if len(buf) >= r.cfg.Delivery.BatchSize {
			return flush()
		}
		return nil
	})

	if runErr == nil && !r.cfg.DryRun {
		runErr = flush()
	}

	report := r.buildReport(started, r.now(), counters, samples, sampleLimit)
	if runErr != nil {
		return report, fmt.Errorf("migration run: %w", runErr)
	}
	return report, nil
}

// harvestUserProps caches the event's user_properties under both identifiers
// so later events for the same identity can inherit them.
func (r *Runner) harvestUserProps(raw *event.RawEvent) {
	up := raw.UserProperties()
	if len(up) == 0 {
		return
	}
	if uid := raw.UserID(); uid != "" {
		r.lastPropsByUserID[uid] = up
	}
	if did := raw.DeviceID(); did != "" {
		r.lastPropsByDeviceID[did] = up
	}
}

// fallbackUserProps returns the cached snapshot for an event that carries no
// user_properties of its own. A user-id match wins over a device-id match.
func (r *Runner) fallbackUserProps(raw *event.RawEvent) map[string]any {
	if len(raw.UserProperties()) > 0 {
		return nil
	}
	if uid := raw.UserID(); uid != "" {
		if up, ok := r.lastPropsByUserID[uid]; ok {
			return up
		}
	}
	if did := raw.DeviceID(); did != "" {
		if up, ok := r.lastPropsByDeviceID[did]; ok {
			return up
		}
	}
	return nil
}

func (r *Runner) buildReport(started, ended time.Time, counters *RunCounters, samples []*event.TransformedEvent, sampleLimit int) *Report {
	cfg := r.cfg
	mtuStrategy := usage.Strategy(cfg.Usage.Strategy)
	return &Report{
		StartedAt: unixSeconds(started),
		EndedAt:   unixSeconds(ended),
		DurationS: round3(ended.Sub(started).Seconds()),
		Source: ReportSource{
			Region:      cfg.Source.Region,
			ExportStart: cfg.Source.ExportStart,
			ExportEnd:   cfg.Source.ExportEnd,
			ExportPath:  cfg.Source.ExportPath,
		},
		Destination: ReportDestination{Region: cfg.Destination.Region},
		Counters:    counters.ToMap(),
		MTU: MTUSummary{
			UniqueUserIDs:    r.estimator.UniqueUsers(),
			UniqueDeviceIDs:  r.estimator.UniqueDevices(),
			Strategy:         cfg.Usage.Strategy,
			RateUSD:          cfg.Usage.RateUSD,
			Estimate:         r.estimator.Estimate(mtuStrategy),
			EstimatedCostUSD: r.estimator.Cost(mtuStrategy, cfg.Usage.RateUSD),
		},
		IDRemap: IDRemapSummary{
			Enabled:        r.remapper.Enabled(),
			UserMapPath:    cfg.Identity.UserMapPath,
			DeviceMapPath:  cfg.Identity.DeviceMapPath,
			Scope:          cfg.Identity.RemapScope,
			UnmappedPolicy: cfg.Identity.UnmappedPolicy,
		},
		Samples: SamplesSummary{
			Limit:  sampleLimit,
			Count:  len(samples),
			Events: samples,
		},
		Settings: settingsFrom(cfg),
	}
}

func unixSeconds(t time.Time) float64 {
	return round3(float64(t.UnixMilli()) / 1000)
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
