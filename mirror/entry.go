package mirror

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// EntityType identifies one of the four SRA record kinds published by the
// mirror.
type EntityType string

const (
	EntityStudy      EntityType = "study"
	EntitySample     EntityType = "sample"
	EntityExperiment EntityType = "experiment"
	EntityRun        EntityType = "run"
)

// AllEntityTypes returns the entity types in canonical processing order.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityStudy, EntitySample, EntityExperiment, EntityRun}
}

// ParseEntityType validates a user-supplied entity name.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityStudy, EntitySample, EntityExperiment, EntityRun:
		return EntityType(s), nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// SnapshotKind distinguishes full baselines from incremental deltas.
type SnapshotKind string

const (
	SnapshotFull        SnapshotKind = "Full"
	SnapshotIncremental SnapshotKind = "Incremental"
)

// Rank orders snapshot kinds for merge purposes. Incremental outranks Full so
// that a delta published the same day as a baseline wins the tie.
func (k SnapshotKind) Rank() int {
	if k == SnapshotIncremental {
		return 1
	}
	return 0
}

// Entry is one published dump file, parsed from the mirror listing. Entries
// are transient planning objects; they are never persisted.
type Entry struct {
	EntityType    EntityType
	PublishedDate time.Time
	SnapshotKind  SnapshotKind
	SourceURL     string
}

// DateString returns the publication date in the lake's partition format.
func (e Entry) DateString() string {
	return e.PublishedDate.Format("2006-01-02")
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %s %s", e.EntityType, e.DateString(), e.SnapshotKind)
}

// After reports whether e sorts strictly after other in
// (published_date, snapshot_kind_rank) order.
func (e Entry) After(other Entry) bool {
	if !e.PublishedDate.Equal(other.PublishedDate) {
		return e.PublishedDate.After(other.PublishedDate)
	}
	return e.SnapshotKind.Rank() > other.SnapshotKind.Rank()
}

// ErrMalformedEntry marks listing entries that do not match the mirror naming
// convention. Such entries are skipped and counted, never fatal to a resolve.
var ErrMalformedEntry = errors.New("malformed mirror entry")

// entryPattern captures the mirror naming convention, e.g.
//
//	.../NCBI_SRA_Mirroring_20251206_Full/meta_study_set.xml.gz
//	.../NCBI_SRA_Mirroring_20251213/meta_run_set.xml.gz
//
// The date is eight digits (YYYYMMDD) or ISO (YYYY-MM-DD); a directory without
// the _Full suffix holds an incremental delta.
var entryPattern = regexp.MustCompile(
	`NCBI_SRA_Mirroring_(\d{8}|\d{4}-\d{2}-\d{2})(_Full)?/meta_(study|sample|experiment|run)_set\.xml(\.\w+)?$`)

// ParseEntry parses one raw listing entry into a typed Entry. It returns an
// error wrapping ErrMalformedEntry when the entry does not match the naming
// convention.
func ParseEntry(rawURL string) (Entry, error) {
	m := entryPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return Entry{}, fmt.Errorf("%w: %s", ErrMalformedEntry, rawURL)
	}

	layout := "20060102"
	if len(m[1]) == 10 {
		layout = "2006-01-02"
	}
	date, err := time.ParseInLocation(layout, m[1], time.UTC)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad date %q in %s", ErrMalformedEntry, m[1], rawURL)
	}

	kind := SnapshotIncremental
	if m[2] == "_Full" {
		kind = SnapshotFull
	}

	return Entry{
		EntityType:    EntityType(m[3]),
		PublishedDate: date,
		SnapshotKind:  kind,
		SourceURL:     rawURL,
	}, nil
}
