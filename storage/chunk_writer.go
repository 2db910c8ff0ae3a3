package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/metrics"
	"github.com/omicslake/sra-mirror-lake/mirror"
)

// ChunkInfo describes one finalized output chunk and its provenance.
type ChunkInfo struct {
	EntityType    mirror.EntityType
	SourceEntry   mirror.Entry
	SequenceIndex int
	RowCount      int64
	Bytes         int64
	Key           string
}

// EntityPrefix is the sink prefix holding every chunk for one entity type.
func EntityPrefix(entity mirror.EntityType) string {
	return string(entity) + "/"
}

// EntryPrefix is the sink prefix holding every chunk produced from one mirror
// entry.
func EntryPrefix(entry mirror.Entry) string {
	return fmt.Sprintf("%s/date=%s/stage=%s/",
		entry.EntityType, entry.DateString(), entry.SnapshotKind)
}

// ChunkKey derives the deterministic sink key for one chunk. Re-running the
// same entry reproduces the same keys, so extraction overwrites instead of
// duplicating.
func ChunkKey(entry mirror.Entry, seq int) string {
	return fmt.Sprintf("%sdata_%05d.parquet", EntryPrefix(entry), seq)
}

// ChunkWriterConfig configures chunk finalization.
type ChunkWriterConfig struct {
	Compression string // "zstd", "snappy", "gzip", "none"
	StageDir    string // local staging directory; empty uses the system default
}

// ChunkWriter finalizes Arrow record batches into parquet chunks in the sink.
// Each chunk is staged in a local temporary file, written sequentially,
// uploaded in a single Put, and the staging file is removed whether or not
// the upload succeeds.
type ChunkWriter struct {
	sink      Sink
	codec     compress.Compression
	stageDir  string
	collector *metrics.Collector
	logger    *logging.ComponentLogger

	// Totals across the writer's lifetime
	chunksWritten int64
	bytesWritten  int64
	rowsWritten   int64
}

// NewChunkWriter creates a chunk writer on the given sink. The metrics
// collector may be nil.
func NewChunkWriter(sink Sink, config ChunkWriterConfig, collector *metrics.Collector, logger *logging.ComponentLogger) (*ChunkWriter, error) {
	codec, err := parseCompression(config.Compression)
	if err != nil {
		return nil, err
	}
	stageDir := config.StageDir
	if stageDir == "" {
		stageDir = os.TempDir()
	} else if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	return &ChunkWriter{
		sink:      sink,
		codec:     codec,
		stageDir:  stageDir,
		collector: collector,
		logger:    logger,
	}, nil
}

func parseCompression(name string) (compress.Compression, error) {
	switch name {
	case "", "zstd":
		return compress.Codecs.Zstd, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

// WriteChunk finalizes one record batch as the entry's chunk at the given
// sequence index. The record is not released; the caller owns it.
func (w *ChunkWriter) WriteChunk(ctx context.Context, entry mirror.Entry, seq int, rec arrow.Record) (ChunkInfo, error) {
	start := time.Now()
	key := ChunkKey(entry, seq)

	tmp, err := os.CreateTemp(w.stageDir, "chunk-*.parquet")
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	props := parquet.NewWriterProperties(parquet.WithCompression(w.codec))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	fw, err := pqarrow.NewFileWriter(rec.Schema(), tmp, props, arrowProps)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return ChunkInfo{}, fmt.Errorf("failed to write parquet chunk: %w", err)
	}
	if err := fw.Close(); err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to finalize parquet chunk: %w", err)
	}

	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to size staged chunk: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to rewind staged chunk: %w", err)
	}

	if err := w.sink.Put(ctx, key, tmp); err != nil {
		return ChunkInfo{}, fmt.Errorf("failed to upload chunk %s: %w", key, err)
	}

	info := ChunkInfo{
		EntityType:    entry.EntityType,
		SourceEntry:   entry,
		SequenceIndex: seq,
		RowCount:      rec.NumRows(),
		Bytes:         size,
		Key:           key,
	}

	w.chunksWritten++
	w.bytesWritten += size
	w.rowsWritten += rec.NumRows()

	if w.collector != nil {
		w.collector.RecordChunkWritten(string(entry.EntityType), size, time.Since(start))
	}

	w.logger.Debug().
		Str("key", key).
		Int64("rows", info.RowCount).
		Int64("bytes", size).
		Dur("elapsed", time.Since(start)).
		Msg("Wrote parquet chunk")

	return info, nil
}

// Totals returns lifetime chunk, byte, and row counts.
func (w *ChunkWriter) Totals() (chunks, bytes, rows int64) {
	return w.chunksWritten, w.bytesWritten, w.rowsWritten
}
