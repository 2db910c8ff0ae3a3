package mirror

import (
	"errors"
	"testing"
	"time"
)

func TestParseEntry(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantEnt  EntityType
		wantDate string
		wantKind SnapshotKind
	}{
		{
			name:     "full study dump",
			url:      "https://ftp.ncbi.nlm.nih.gov/sra/reports/Mirroring/NCBI_SRA_Mirroring_20251206_Full/meta_study_set.xml.gz",
			wantEnt:  EntityStudy,
			wantDate: "2025-12-06",
			wantKind: SnapshotFull,
		},
		{
			name:     "incremental run dump",
			url:      "https://ftp.ncbi.nlm.nih.gov/sra/reports/Mirroring/NCBI_SRA_Mirroring_20251213/meta_run_set.xml.gz",
			wantEnt:  EntityRun,
			wantDate: "2025-12-13",
			wantKind: SnapshotIncremental,
		},
		{
			name:     "iso date",
			url:      "https://mirror.example.org/NCBI_SRA_Mirroring_2025-12-06_Full/meta_sample_set.xml.gz",
			wantEnt:  EntitySample,
			wantDate: "2025-12-06",
			wantKind: SnapshotFull,
		},
		{
			name:     "uncompressed experiment dump",
			url:      "https://mirror.example.org/NCBI_SRA_Mirroring_20240101/meta_experiment_set.xml",
			wantEnt:  EntityExperiment,
			wantDate: "2024-01-01",
			wantKind: SnapshotIncremental,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, err := ParseEntry(tt.url)
			if err != nil {
				t.Fatalf("ParseEntry(%q) failed: %v", tt.url, err)
			}
			if entry.EntityType != tt.wantEnt {
				t.Errorf("entity = %s, want %s", entry.EntityType, tt.wantEnt)
			}
			if got := entry.DateString(); got != tt.wantDate {
				t.Errorf("date = %s, want %s", got, tt.wantDate)
			}
			if entry.SnapshotKind != tt.wantKind {
				t.Errorf("kind = %s, want %s", entry.SnapshotKind, tt.wantKind)
			}
			if entry.SourceURL != tt.url {
				t.Errorf("source url = %s, want %s", entry.SourceURL, tt.url)
			}
		})
	}
}

func TestParseEntry_Malformed(t *testing.T) {
	malformed := []string{
		"https://mirror.example.org/NCBI_SRA_Mirroring_20251206_Full/README.txt",
		"https://mirror.example.org/SomeOtherDir_20251206/meta_study_set.xml.gz",
		"https://mirror.example.org/NCBI_SRA_Mirroring_2025126_Full/meta_study_set.xml.gz",
		"https://mirror.example.org/NCBI_SRA_Mirroring_20251206_Full/meta_protocol_set.xml.gz",
		"",
	}
	for _, url := range malformed {
		if _, err := ParseEntry(url); !errors.Is(err, ErrMalformedEntry) {
			t.Errorf("ParseEntry(%q) = %v, want ErrMalformedEntry", url, err)
		}
	}
}

func TestSnapshotKindRank(t *testing.T) {
	if SnapshotIncremental.Rank() <= SnapshotFull.Rank() {
		t.Error("Incremental must outrank Full on a date tie")
	}
}

func TestEntryAfter(t *testing.T) {
	jan1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	fullJan := Entry{PublishedDate: jan1, SnapshotKind: SnapshotFull}
	incrJan := Entry{PublishedDate: jan1, SnapshotKind: SnapshotIncremental}
	fullFeb := Entry{PublishedDate: feb1, SnapshotKind: SnapshotFull}

	if !incrJan.After(fullJan) {
		t.Error("same-date incremental should sort after full")
	}
	if !fullFeb.After(incrJan) {
		t.Error("later date should sort after earlier regardless of kind")
	}
	if fullJan.After(fullJan) {
		t.Error("entry should not sort after itself")
	}
}
