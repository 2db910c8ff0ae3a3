package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/metrics"
	"github.com/omicslake/sra-mirror-lake/mirror"
)

func testEntry(kind mirror.SnapshotKind) mirror.Entry {
	return mirror.Entry{
		EntityType:    mirror.EntityStudy,
		PublishedDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SnapshotKind:  kind,
		SourceURL:     "https://mirror.example.org/NCBI_SRA_Mirroring_20240101_Full/meta_study_set.xml.gz",
	}
}

func testRecord(t *testing.T, accessions ...string) arrow.Record {
	t.Helper()
	s := arrow.NewSchema([]arrow.Field{
		{Name: "accession", Type: arrow.BinaryTypes.String, Nullable: false},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), s)
	defer b.Release()
	for _, acc := range accessions {
		b.Field(0).(*array.StringBuilder).Append(acc)
	}
	return b.NewRecord()
}

type failingSink struct{}

func (failingSink) Put(ctx context.Context, key string, r io.Reader) error {
	return errors.New("sink write refused")
}

func (failingSink) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return nil, nil
}

func (failingSink) Delete(ctx context.Context, key string) error { return nil }

func (failingSink) DeletePrefix(ctx context.Context, prefix string) error { return nil }

func TestChunkKey_Deterministic(t *testing.T) {
	full := testEntry(mirror.SnapshotFull)
	incr := testEntry(mirror.SnapshotIncremental)

	if got, want := ChunkKey(full, 0), "study/date=2024-01-01/stage=Full/data_00000.parquet"; got != want {
		t.Errorf("ChunkKey = %s, want %s", got, want)
	}
	if got, want := ChunkKey(incr, 12), "study/date=2024-01-01/stage=Incremental/data_00012.parquet"; got != want {
		t.Errorf("ChunkKey = %s, want %s", got, want)
	}
	if ChunkKey(full, 3) != ChunkKey(full, 3) {
		t.Error("chunk keys must be deterministic")
	}
}

func TestWriteChunk_UploadsAndCleansStaging(t *testing.T) {
	stageDir := t.TempDir()
	sink, _ := NewLocalSink(t.TempDir())
	w, err := NewChunkWriter(sink, ChunkWriterConfig{Compression: "zstd", StageDir: stageDir}, nil, logging.NewComponentLogger("test", "dev"))
	if err != nil {
		t.Fatalf("NewChunkWriter failed: %v", err)
	}

	rec := testRecord(t, "SRP1", "SRP2", "SRP3")
	defer rec.Release()

	info, err := w.WriteChunk(context.Background(), testEntry(mirror.SnapshotFull), 0, rec)
	if err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}
	if info.RowCount != 3 {
		t.Errorf("rows = %d, want 3", info.RowCount)
	}
	if info.Bytes <= 0 {
		t.Errorf("bytes = %d, want > 0", info.Bytes)
	}

	objects, _ := sink.List(context.Background(), "study/")
	if len(objects) != 1 || objects[0].Key != info.Key {
		t.Fatalf("sink objects = %v, want exactly %s", objects, info.Key)
	}
	if objects[0].Size != info.Bytes {
		t.Errorf("uploaded size = %d, want %d", objects[0].Size, info.Bytes)
	}

	// Staging files are removed after upload
	leftover, err := filepath.Glob(filepath.Join(stageDir, "chunk-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftover) != 0 {
		t.Errorf("staging files left behind: %v", leftover)
	}
}

func TestWriteChunk_IdempotentRerun(t *testing.T) {
	root := t.TempDir()
	sink, _ := NewLocalSink(root)
	w, _ := NewChunkWriter(sink, ChunkWriterConfig{StageDir: t.TempDir()}, nil, logging.NewComponentLogger("test", "dev"))

	entry := testEntry(mirror.SnapshotFull)
	rec := testRecord(t, "SRP1", "SRP2")
	defer rec.Release()

	first, err := w.WriteChunk(context.Background(), entry, 0, rec)
	if err != nil {
		t.Fatalf("first WriteChunk failed: %v", err)
	}
	firstBytes, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(first.Key)))
	if err != nil {
		t.Fatal(err)
	}

	second, err := w.WriteChunk(context.Background(), entry, 0, rec)
	if err != nil {
		t.Fatalf("second WriteChunk failed: %v", err)
	}
	if first.Key != second.Key {
		t.Fatalf("re-run produced different key: %s vs %s", first.Key, second.Key)
	}

	secondBytes, _ := os.ReadFile(filepath.Join(root, filepath.FromSlash(second.Key)))
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Error("re-running the same chunk must produce byte-identical output")
	}

	objects, _ := sink.List(context.Background(), "study/")
	if len(objects) != 1 {
		t.Errorf("re-run must overwrite, not duplicate: %d objects", len(objects))
	}
}

func TestWriteChunk_FailedUploadCleansStaging(t *testing.T) {
	stageDir := t.TempDir()
	w, _ := NewChunkWriter(failingSink{}, ChunkWriterConfig{StageDir: stageDir}, nil, logging.NewComponentLogger("test", "dev"))

	rec := testRecord(t, "SRP1")
	defer rec.Release()

	if _, err := w.WriteChunk(context.Background(), testEntry(mirror.SnapshotFull), 0, rec); err == nil {
		t.Fatal("expected upload failure")
	}

	leftover, _ := filepath.Glob(filepath.Join(stageDir, "chunk-*"))
	if len(leftover) != 0 {
		t.Errorf("staging files left behind after failed upload: %v", leftover)
	}
}

// counterValue reads one labeled counter from a gathered registry.
func counterValue(t *testing.T, reg *prometheus.Registry, name, entity string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "entity" && l.GetValue() == entity {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWriteChunk_RecordsChunkMetrics(t *testing.T) {
	logger := logging.NewComponentLogger("test", "dev")
	collector := metrics.NewCollector(logger)
	sink, _ := NewLocalSink(t.TempDir())
	w, err := NewChunkWriter(sink, ChunkWriterConfig{Compression: "zstd", StageDir: t.TempDir()}, collector, logger)
	if err != nil {
		t.Fatalf("NewChunkWriter failed: %v", err)
	}

	rec := testRecord(t, "SRP1", "SRP2")
	defer rec.Release()

	info, err := w.WriteChunk(context.Background(), testEntry(mirror.SnapshotFull), 0, rec)
	if err != nil {
		t.Fatalf("WriteChunk failed: %v", err)
	}

	reg := collector.Registry()
	if got := counterValue(t, reg, "sra_mirror_chunks_written_total", "study"); got != 1 {
		t.Errorf("chunks_written_total = %v, want 1", got)
	}
	if got := counterValue(t, reg, "sra_mirror_bytes_written_total", "study"); got != float64(info.Bytes) {
		t.Errorf("bytes_written_total = %v, want %d", got, info.Bytes)
	}
}

func TestNewChunkWriter_RejectsUnknownCompression(t *testing.T) {
	sink, _ := NewLocalSink(t.TempDir())
	if _, err := NewChunkWriter(sink, ChunkWriterConfig{Compression: "brotli"}, nil, logging.NewComponentLogger("test", "dev")); err == nil {
		t.Fatal("expected error for unsupported compression")
	}
}
