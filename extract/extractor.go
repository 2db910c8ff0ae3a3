// Package extract streams one mirror entry end to end: fetch, decompress,
// parse, coerce, and flush parquet chunks to the sink under a bounded memory
// budget. One extractor instance owns one entry at a time, so chunk sequence
// numbers are assigned without coordination.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/omicslake/sra-mirror-lake/compression"
	"github.com/omicslake/sra-mirror-lake/convert"
	"github.com/omicslake/sra-mirror-lake/dump"
	"github.com/omicslake/sra-mirror-lake/logging"
	"github.com/omicslake/sra-mirror-lake/memory"
	"github.com/omicslake/sra-mirror-lake/mirror"
	"github.com/omicslake/sra-mirror-lake/schema"
	"github.com/omicslake/sra-mirror-lake/storage"
)

const (
	// DefaultMaxRowsPerChunk bounds rows buffered before a chunk flush.
	DefaultMaxRowsPerChunk = 100_000
	// DefaultMaxBytesPerChunk bounds builder memory before a chunk flush.
	DefaultMaxBytesPerChunk = 256 << 20
)

// Fetcher opens the byte stream behind a mirror entry URL.
type Fetcher interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

// Config holds the chunk budget. Zero values fall back to the defaults.
type Config struct {
	MaxRowsPerChunk  int
	MaxBytesPerChunk int64
}

// Result summarizes one entry's extraction.
type Result struct {
	Entry          mirror.Entry
	ChunksWritten  int
	RowsWritten    int64
	RecordsSkipped int64
	FieldErrors    int64
	PeakBytes      int64
}

// Extractor turns mirror entries into parquet chunks.
type Extractor struct {
	fetcher Fetcher
	schemas *schema.Registry
	writer  *storage.ChunkWriter
	config  Config
	logger  *logging.ComponentLogger
}

// NewExtractor wires an extractor over the given fetcher, schema registry,
// and chunk writer.
func NewExtractor(fetcher Fetcher, schemas *schema.Registry, writer *storage.ChunkWriter, config Config, logger *logging.ComponentLogger) *Extractor {
	if config.MaxRowsPerChunk <= 0 {
		config.MaxRowsPerChunk = DefaultMaxRowsPerChunk
	}
	if config.MaxBytesPerChunk <= 0 {
		config.MaxBytesPerChunk = DefaultMaxBytesPerChunk
	}
	return &Extractor{
		fetcher: fetcher,
		schemas: schemas,
		writer:  writer,
		config:  config,
		logger:  logger,
	}
}

// ExtractEntry streams one entry into the sink. Records with no usable key
// are counted and skipped; fields that fail coercion are nulled and counted.
// Parse failures, sink failures, and cancellation abort the entry, leaving
// any already-finalized chunks in place to be overwritten on the next run.
func (e *Extractor) ExtractEntry(ctx context.Context, entry mirror.Entry) (res Result, err error) {
	start := time.Now()
	res.Entry = entry

	log := e.logger.WithEntry(string(entry.EntityType), entry.DateString(), string(entry.SnapshotKind))
	defer func() {
		log.LogEntryOutcome(entry.SourceURL, res.ChunksWritten, res.RowsWritten, res.RecordsSkipped, time.Since(start), err)
	}()

	entitySchema, err := e.schemas.Get(entry.EntityType)
	if err != nil {
		return res, err
	}

	body, err := e.fetcher.Open(ctx, entry.SourceURL)
	if err != nil {
		return res, fmt.Errorf("failed to open %s: %w", entry.SourceURL, err)
	}
	stream, err := compression.NewReader(body, compression.DetectFromPath(entry.SourceURL))
	if err != nil {
		body.Close()
		return res, fmt.Errorf("failed to decompress %s: %w", entry.SourceURL, err)
	}
	defer stream.Close()

	reader, err := dump.NewReader(stream, entry.EntityType)
	if err != nil {
		return res, err
	}

	alloc := memory.NewTrackedAllocator()
	conv, err := convert.NewConverter(alloc, entry.EntityType, entitySchema)
	if err != nil {
		return res, err
	}
	defer conv.Release()

	seq := 0
	flush := func() error {
		if conv.Len() == 0 {
			return nil
		}
		rec := conv.Build()
		defer rec.Release()
		info, werr := e.writer.WriteChunk(ctx, entry, seq, rec)
		if werr != nil {
			return werr
		}
		seq++
		res.ChunksWritten++
		res.RowsWritten += info.RowCount
		return nil
	}

	for {
		if cerr := ctx.Err(); cerr != nil {
			return res, cerr
		}
		raw, rerr := reader.Next()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return res, fmt.Errorf("malformed dump %s: %w", entry.SourceURL, rerr)
		}

		fieldErrs, aerr := conv.Append(raw)
		if errors.Is(aerr, convert.ErrMissingKey) {
			res.RecordsSkipped++
			continue
		}
		if aerr != nil {
			return res, aerr
		}
		res.FieldErrors += int64(fieldErrs)

		if conv.Len() >= e.config.MaxRowsPerChunk || alloc.CurrentAllocated() >= e.config.MaxBytesPerChunk {
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
		}
	}

	if ferr := flush(); ferr != nil {
		return res, ferr
	}
	res.PeakBytes = alloc.PeakAllocated()
	return res, nil
}
