package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omicslake/sra-mirror-lake/extract"
	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/metrics"
	"github.com/omicslake/sra-mirror-lake/mirror"
	"github.com/omicslake/sra-mirror-lake/storage"
)

// Lister fetches the raw remote listing of published dump files.
type Lister interface {
	FetchListing(ctx context.Context) ([]string, error)
}

// EntryExtractor lands one mirror entry in the sink.
type EntryExtractor interface {
	ExtractEntry(ctx context.Context, entry mirror.Entry) (extract.Result, error)
}

// RunOptions narrows a sync run.
type RunOptions struct {
	// Entities limits the run to the named entity types. Empty means all.
	Entities []mirror.EntityType
	// Since drops batch entries published before this date. The Full
	// baseline is always kept; zero means no lower bound.
	Since time.Time
	// Until drops batch entries published after this date. Zero means no
	// upper bound.
	Until time.Time
	// MaxEntries caps the number of entries processed per entity type.
	// Zero means unlimited.
	MaxEntries int
}

// EntryOutcome records what happened to one mirror entry.
type EntryOutcome struct {
	Entry  mirror.Entry
	Result extract.Result
	Err    error
}

// EntityReport is one entity type's slice of a RunReport.
type EntityReport struct {
	EntityType    mirror.EntityType
	Baseline      mirror.Entry
	Outcomes      []EntryOutcome
	ChunksDeleted int
	// Err is set when the entity could not run at all, e.g. no Full
	// baseline was published.
	Err error
}

// Failed reports whether any part of this entity's run failed.
func (er *EntityReport) Failed() bool {
	if er.Err != nil {
		return true
	}
	for _, o := range er.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return false
}

// RunReport summarizes one sync run across all entity types.
type RunReport struct {
	Started  time.Time
	Finished time.Time
	Stats    mirror.ResolveStats
	Entities map[mirror.EntityType]*EntityReport
}

// Failed reports whether any entity's run failed.
func (r *RunReport) Failed() bool {
	for _, er := range r.Entities {
		if er.Failed() {
			return true
		}
	}
	return false
}

// Summary renders a one-line-per-entity digest for logs and CLI output.
func (r *RunReport) Summary() string {
	entities := make([]mirror.EntityType, 0, len(r.Entities))
	for et := range r.Entities {
		entities = append(entities, et)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i] < entities[j] })

	var b strings.Builder
	for _, et := range entities {
		er := r.Entities[et]
		if er.Err != nil {
			fmt.Fprintf(&b, "%s: failed (%v)\n", et, er.Err)
			continue
		}
		var rows, skipped int64
		var chunks, failed int
		for _, o := range er.Outcomes {
			rows += o.Result.RowsWritten
			skipped += o.Result.RecordsSkipped
			chunks += o.Result.ChunksWritten
			if o.Err != nil {
				failed++
			}
		}
		fmt.Fprintf(&b, "%s: baseline=%s entries=%d failed=%d chunks=%d rows=%d skipped=%d deleted=%d\n",
			et, er.Baseline.DateString(), len(er.Outcomes), failed, chunks, rows, skipped, er.ChunksDeleted)
	}
	return b.String()
}

// Orchestrator drives a full sync run. Entity types run concurrently; entries
// within one entity type run strictly in resolved order.
type Orchestrator struct {
	lister    Lister
	resolver  *mirror.Resolver
	extractor EntryExtractor
	sink      storage.Sink
	state     *StateStore
	collector *metrics.Collector
	logger    *logging.ComponentLogger
}

// NewOrchestrator wires an orchestrator. The metrics collector may be nil.
func NewOrchestrator(lister Lister, resolver *mirror.Resolver, extractor EntryExtractor, sink storage.Sink, state *StateStore, collector *metrics.Collector, logger *logging.ComponentLogger) *Orchestrator {
	return &Orchestrator{
		lister:    lister,
		resolver:  resolver,
		extractor: extractor,
		sink:      sink,
		state:     state,
		collector: collector,
		logger:    logger,
	}
}

// Plan resolves the current batches without writing anything.
func (o *Orchestrator) Plan(ctx context.Context, opts RunOptions) (map[mirror.EntityType]mirror.Batch, mirror.ResolveStats, error) {
	listing, err := o.lister.FetchListing(ctx)
	if err != nil {
		return nil, mirror.ResolveStats{}, fmt.Errorf("failed to fetch mirror listing: %w", err)
	}
	batches, stats := o.resolver.Resolve(listing)

	planned := make(map[mirror.EntityType]mirror.Batch)
	for _, et := range selectEntities(opts.Entities) {
		batch, ok := batches[et]
		if !ok {
			continue
		}
		batch.Entries = applyFilters(batch, opts)
		planned[et] = batch
	}
	return planned, stats, nil
}

// Run executes a sync: resolve, extract per entity, record new baselines, and
// clean up chunks the new baselines superseded. Entity failures are contained:
// the report carries them and every other entity still runs to completion.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	report := &RunReport{
		Started:  time.Now(),
		Entities: make(map[mirror.EntityType]*EntityReport),
	}

	listing, err := o.lister.FetchListing(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mirror listing: %w", err)
	}
	batches, stats := o.resolver.Resolve(listing)
	report.Stats = stats

	state, err := o.state.Load()
	if err != nil {
		return nil, err
	}

	entities := selectEntities(opts.Entities)
	for _, et := range entities {
		report.Entities[et] = &EntityReport{EntityType: et}
	}

	var g errgroup.Group
	for _, et := range entities {
		er := report.Entities[et]
		batch, ok := batches[et]
		if !ok {
			er.Err = fmt.Errorf("%s: %w", et, mirror.ErrMissingBaseline)
			o.logger.Error().
				Str("entity", string(et)).
				Msg("No full baseline published; skipping entity")
			continue
		}
		er.Baseline = batch.Baseline
		batch.Entries = applyFilters(batch, opts)

		g.Go(func() error {
			o.runEntity(ctx, batch, er)
			return nil
		})
	}
	g.Wait()

	// Record baselines and clean up only for entities whose Full landed.
	for _, et := range entities {
		er := report.Entities[et]
		if er.Err != nil || !o.baselineLanded(er) {
			continue
		}
		prev, had := state.Baseline(et)
		isNew := !had || er.Baseline.DateString() > prev.Date
		state.Baselines[string(et)] = Baseline{
			Date:       er.Baseline.DateString(),
			SourceURL:  er.Baseline.SourceURL,
			RecordedAt: time.Now().UTC(),
		}
		if o.collector != nil {
			o.collector.UpdateBaseline(string(et), er.Baseline.PublishedDate)
		}
		if !isNew {
			continue
		}
		deleted, cerr := o.cleanupEntity(ctx, et, er.Baseline.DateString())
		if cerr != nil {
			o.logger.Warn().
				Str("entity", string(et)).
				Err(cerr).
				Msg("Cleanup of pre-baseline chunks failed; stale chunks remain")
			continue
		}
		er.ChunksDeleted = deleted
	}

	state.LastRun = time.Now().UTC()
	if err := o.state.Save(state); err != nil {
		return report, err
	}

	report.Finished = time.Now()
	return report, ctx.Err()
}

// Cleanup removes chunks older than each entity's recorded Full baseline.
// It is the standalone form of the post-run cleanup step.
func (o *Orchestrator) Cleanup(ctx context.Context, entities []mirror.EntityType) (map[mirror.EntityType]int, error) {
	state, err := o.state.Load()
	if err != nil {
		return nil, err
	}

	deleted := make(map[mirror.EntityType]int)
	for _, et := range selectEntities(entities) {
		baseline, ok := state.Baseline(et)
		if !ok {
			o.logger.Warn().
				Str("entity", string(et)).
				Msg("No recorded baseline; nothing to clean up")
			continue
		}
		n, err := o.cleanupEntity(ctx, et, baseline.Date)
		if err != nil {
			return deleted, err
		}
		deleted[et] = n
	}
	return deleted, nil
}

// runEntity processes one entity's batch entries strictly in order. A failed
// entry is recorded and the remaining entries still run; its partial chunks
// stay in the sink and are overwritten by the next successful run.
func (o *Orchestrator) runEntity(ctx context.Context, batch mirror.Batch, er *EntityReport) {
	for _, entry := range batch.Entries {
		if ctx.Err() != nil {
			er.Outcomes = append(er.Outcomes, EntryOutcome{Entry: entry, Err: ctx.Err()})
			return
		}
		start := time.Now()
		res, err := o.extractor.ExtractEntry(ctx, entry)
		er.Outcomes = append(er.Outcomes, EntryOutcome{Entry: entry, Result: res, Err: err})

		if o.collector == nil {
			continue
		}
		if err != nil {
			o.collector.RecordEntryFailed(string(entry.EntityType))
			continue
		}
		o.collector.RecordEntryProcessed(string(entry.EntityType),
			res.RowsWritten, res.RecordsSkipped, res.FieldErrors, time.Since(start))
		o.collector.UpdateBuilderMemory(res.PeakBytes)
	}
}

// baselineLanded reports whether the batch's Full entry extracted cleanly.
func (o *Orchestrator) baselineLanded(er *EntityReport) bool {
	for _, out := range er.Outcomes {
		if out.Entry == er.Baseline {
			return out.Err == nil
		}
	}
	return false
}

// cleanupEntity deletes every chunk for the entity whose provenance date
// predates the baseline date. Chunk keys carry their date partition, so the
// comparison is a lexicographic one on the ISO date.
func (o *Orchestrator) cleanupEntity(ctx context.Context, entity mirror.EntityType, baselineDate string) (int, error) {
	objs, err := o.sink.List(ctx, storage.EntityPrefix(entity))
	if err != nil {
		return 0, fmt.Errorf("failed to list chunks for %s: %w", entity, err)
	}

	deleted := 0
	for _, obj := range objs {
		date, ok := chunkDate(obj.Key)
		if !ok || date >= baselineDate {
			continue
		}
		if err := o.sink.Delete(ctx, obj.Key); err != nil {
			return deleted, fmt.Errorf("failed to delete stale chunk %s: %w", obj.Key, err)
		}
		deleted++
	}

	if deleted > 0 {
		o.logger.Info().
			Str("entity", string(entity)).
			Str("baseline", baselineDate).
			Int("deleted", deleted).
			Msg("Removed pre-baseline chunks")
		if o.collector != nil {
			o.collector.RecordChunksDeleted(string(entity), deleted)
		}
	}
	return deleted, nil
}

// chunkDate extracts the date partition value from a chunk key.
func chunkDate(key string) (string, bool) {
	const marker = "date="
	i := strings.Index(key, marker)
	if i < 0 {
		return "", false
	}
	rest := key[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[:j], true
	}
	return "", false
}

func selectEntities(requested []mirror.EntityType) []mirror.EntityType {
	if len(requested) == 0 {
		return mirror.AllEntityTypes()
	}
	return requested
}

// applyFilters narrows a batch's entries per the run options. The Full
// baseline always survives the date filters; dropping it would make the
// remaining incrementals unanchored.
func applyFilters(batch mirror.Batch, opts RunOptions) []mirror.Entry {
	entries := batch.Entries
	if !opts.Since.IsZero() || !opts.Until.IsZero() {
		kept := entries[:0:0]
		for _, e := range entries {
			if e == batch.Baseline {
				kept = append(kept, e)
				continue
			}
			if !opts.Since.IsZero() && e.PublishedDate.Before(opts.Since) {
				continue
			}
			if !opts.Until.IsZero() && e.PublishedDate.After(opts.Until) {
				continue
			}
			kept = append(kept, e)
		}
		entries = kept
	}
	if opts.MaxEntries > 0 && len(entries) > opts.MaxEntries {
		entries = entries[:opts.MaxEntries]
	}
	return entries
}
