package mirror

import (
	"errors"
	"sort"

	"github.com/omicslake/sra-mirror-lake/logging"
)

// ErrMissingBaseline reports an entity type with no published Full dump. There
// is no valid current state without a Full baseline, so the entity's run is a
// failure; other entity types proceed.
var ErrMissingBaseline = errors.New("no full baseline published for entity type")

// Batch is the ordered set of dump entries needed to reconstruct current state
// for one entity type: the newest Full baseline plus every entry published on
// or after it, ascending by (published_date, snapshot_kind_rank).
type Batch struct {
	EntityType EntityType
	Baseline   Entry
	Entries    []Entry
}

// ResolveStats summarizes a resolve pass over a raw listing.
type ResolveStats struct {
	TotalEntries     int
	MalformedEntries int
	ParsedEntries    int
}

// Resolver computes current batches from raw mirror listings.
type Resolver struct {
	logger *logging.ComponentLogger
}

// NewResolver creates a batch resolver.
func NewResolver(logger *logging.ComponentLogger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve parses the raw listing and computes the current batch per entity
// type. Malformed entries are skipped and counted. Entity types with no Full
// entry are absent from the result; callers treat that as ErrMissingBaseline.
//
// Resolve is deterministic: the same listing always yields bit-identical
// batches, regardless of input order. URL ordering breaks any remaining ties.
func (r *Resolver) Resolve(listing []string) (map[EntityType]Batch, ResolveStats) {
	stats := ResolveStats{TotalEntries: len(listing)}

	byEntity := make(map[EntityType][]Entry)
	for _, raw := range listing {
		entry, err := ParseEntry(raw)
		if err != nil {
			stats.MalformedEntries++
			r.logger.Debug().
				Str("entry", raw).
				Err(err).
				Msg("Skipping malformed listing entry")
			continue
		}
		stats.ParsedEntries++
		byEntity[entry.EntityType] = append(byEntity[entry.EntityType], entry)
	}

	batches := make(map[EntityType]Batch, len(byEntity))
	for entity, entries := range byEntity {
		batch, ok := resolveEntity(entity, entries)
		if !ok {
			r.logger.Warn().
				Str("entity", string(entity)).
				Int("entries", len(entries)).
				Msg("No full baseline in listing for entity type")
			continue
		}
		batches[entity] = batch
	}

	return batches, stats
}

// resolveEntity picks the newest Full baseline and collects every entry on or
// after its date. Reports ok=false when no Full entry exists.
func resolveEntity(entity EntityType, entries []Entry) (Batch, bool) {
	var baseline Entry
	found := false
	for _, e := range entries {
		if e.SnapshotKind != SnapshotFull {
			continue
		}
		if !found || e.PublishedDate.After(baseline.PublishedDate) ||
			(e.PublishedDate.Equal(baseline.PublishedDate) && e.SourceURL < baseline.SourceURL) {
			baseline = e
			found = true
		}
	}
	if !found {
		return Batch{}, false
	}

	var current []Entry
	for _, e := range entries {
		if e.PublishedDate.Before(baseline.PublishedDate) {
			continue
		}
		if e.SnapshotKind == SnapshotFull && e.SourceURL != baseline.SourceURL &&
			e.PublishedDate.Equal(baseline.PublishedDate) {
			// A duplicate same-day Full lost the deterministic tie-break; the
			// chosen baseline supersedes it.
			continue
		}
		current = append(current, e)
	}

	sort.Slice(current, func(i, j int) bool {
		a, b := current[i], current[j]
		if !a.PublishedDate.Equal(b.PublishedDate) {
			return a.PublishedDate.Before(b.PublishedDate)
		}
		if a.SnapshotKind.Rank() != b.SnapshotKind.Rank() {
			return a.SnapshotKind.Rank() < b.SnapshotKind.Rank()
		}
		return a.SourceURL < b.SourceURL
	})

	return Batch{EntityType: entity, Baseline: baseline, Entries: current}, true
}
