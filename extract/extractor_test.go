package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/mirror"
	"github.com/omicslake/sra-mirror-lake/schema"
	"github.com/omicslake/sra-mirror-lake/storage"
)

type fakeFetcher struct {
	payloads map[string][]byte
	err      error
}

func (f *fakeFetcher) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.payloads[url]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", url)
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func studySetXML(accessions ...string) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><STUDY_SET>`)
	for _, acc := range accessions {
		if acc == "" {
			b.WriteString(`<STUDY alias="keyless"><DESCRIPTOR><STUDY_TITLE>t</STUDY_TITLE></DESCRIPTOR></STUDY>`)
			continue
		}
		fmt.Fprintf(&b, `<STUDY accession=%q alias="a-%s"><DESCRIPTOR><STUDY_TITLE>Study %s</STUDY_TITLE></DESCRIPTOR></STUDY>`, acc, acc, acc)
	}
	b.WriteString(`</STUDY_SET>`)
	return []byte(b.String())
}

func studyAccessions(n int) []string {
	accs := make([]string, n)
	for i := range accs {
		accs[i] = fmt.Sprintf("SRP%06d", i+1)
	}
	return accs
}

func testEntry(url string) mirror.Entry {
	return mirror.Entry{
		EntityType:    mirror.EntityStudy,
		PublishedDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SnapshotKind:  mirror.SnapshotFull,
		SourceURL:     url,
	}
}

func newTestExtractor(t *testing.T, fetcher Fetcher, config Config) (*Extractor, *storage.LocalSink) {
	t.Helper()
	sink, err := storage.NewLocalSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalSink failed: %v", err)
	}
	logger := logging.NewComponentLogger("extract-test", "test")
	writer, err := storage.NewChunkWriter(sink, storage.ChunkWriterConfig{Compression: "none", StageDir: t.TempDir()}, nil, logger)
	if err != nil {
		t.Fatalf("NewChunkWriter failed: %v", err)
	}
	return NewExtractor(fetcher, schema.NewRegistry(nil), writer, config, logger), sink
}

func TestExtractEntry_ChunkBudget(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml"
	fetcher := &fakeFetcher{payloads: map[string][]byte{url: studySetXML(studyAccessions(10)...)}}
	ex, sink := newTestExtractor(t, fetcher, Config{MaxRowsPerChunk: 4})

	res, err := ex.ExtractEntry(context.Background(), testEntry(url))
	if err != nil {
		t.Fatalf("ExtractEntry failed: %v", err)
	}
	if res.ChunksWritten != 3 {
		t.Errorf("chunks = %d, want 3", res.ChunksWritten)
	}
	if res.RowsWritten != 10 {
		t.Errorf("rows = %d, want 10", res.RowsWritten)
	}
	if res.RecordsSkipped != 0 {
		t.Errorf("skipped = %d, want 0", res.RecordsSkipped)
	}

	objs, err := sink.List(context.Background(), "study/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("sink holds %d objects, want 3", len(objs))
	}
	wantKeys := []string{
		"study/date=2024-03-01/stage=Full/data_00000.parquet",
		"study/date=2024-03-01/stage=Full/data_00001.parquet",
		"study/date=2024-03-01/stage=Full/data_00002.parquet",
	}
	for i, obj := range objs {
		if obj.Key != wantKeys[i] {
			t.Errorf("key[%d] = %q, want %q", i, obj.Key, wantKeys[i])
		}
	}
}

func TestExtractEntry_SkipsKeylessRecords(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml"
	accs := []string{"SRP000001", "", "SRP000002", ""}
	fetcher := &fakeFetcher{payloads: map[string][]byte{url: studySetXML(accs...)}}
	ex, _ := newTestExtractor(t, fetcher, Config{})

	res, err := ex.ExtractEntry(context.Background(), testEntry(url))
	if err != nil {
		t.Fatalf("ExtractEntry failed: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Errorf("rows = %d, want 2", res.RowsWritten)
	}
	if res.RecordsSkipped != 2 {
		t.Errorf("skipped = %d, want 2", res.RecordsSkipped)
	}
}

func TestExtractEntry_Idempotent(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml"
	fetcher := &fakeFetcher{payloads: map[string][]byte{url: studySetXML(studyAccessions(6)...)}}
	ex, sink := newTestExtractor(t, fetcher, Config{MaxRowsPerChunk: 4})

	for run := 0; run < 2; run++ {
		if _, err := ex.ExtractEntry(context.Background(), testEntry(url)); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}

	objs, err := sink.List(context.Background(), "study/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objs) != 2 {
		t.Errorf("sink holds %d objects after rerun, want 2", len(objs))
	}
}

func TestExtractEntry_GzipSource(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml.gz"
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(studySetXML(studyAccessions(3)...)); err != nil {
		t.Fatalf("gzip write failed: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close failed: %v", err)
	}

	fetcher := &fakeFetcher{payloads: map[string][]byte{url: buf.Bytes()}}
	ex, _ := newTestExtractor(t, fetcher, Config{})

	res, err := ex.ExtractEntry(context.Background(), testEntry(url))
	if err != nil {
		t.Fatalf("ExtractEntry failed: %v", err)
	}
	if res.RowsWritten != 3 {
		t.Errorf("rows = %d, want 3", res.RowsWritten)
	}
}

func TestExtractEntry_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	ex, sink := newTestExtractor(t, fetcher, Config{})

	_, err := ex.ExtractEntry(context.Background(), testEntry("http://mirror.test/meta_study_set.xml"))
	if err == nil {
		t.Fatal("expected fetch error")
	}
	objs, _ := sink.List(context.Background(), "study/")
	if len(objs) != 0 {
		t.Errorf("sink holds %d objects after fetch failure, want 0", len(objs))
	}
}

func TestExtractEntry_TruncatedDump(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml"
	full := studySetXML(studyAccessions(4)...)
	fetcher := &fakeFetcher{payloads: map[string][]byte{url: full[:len(full)-20]}}
	ex, _ := newTestExtractor(t, fetcher, Config{})

	if _, err := ex.ExtractEntry(context.Background(), testEntry(url)); err == nil {
		t.Fatal("expected malformed dump error")
	}
}

func TestExtractEntry_Cancelled(t *testing.T) {
	const url = "http://mirror.test/meta_study_set.xml"
	fetcher := &fakeFetcher{payloads: map[string][]byte{url: studySetXML(studyAccessions(2)...)}}
	ex, _ := newTestExtractor(t, fetcher, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ex.ExtractEntry(ctx, testEntry(url)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
