package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/omicslake/sra-mirror-lake/mirror"
	"github.com/omicslake/sra-mirror-lake/schema"
)

// MergeViewSQL builds the dedup query for one entity type: the union of all
// of its chunks, one row per accession, newest (date, stage rank) winning.
// An Incremental beats a Full published the same day. The date and stage
// columns come from the hive partition path, so chunk provenance is carried
// by layout alone and the parquet rows stay pure record data.
func MergeViewSQL(lakePath string, entity mirror.EntityType) string {
	glob := chunkGlob(lakePath, entity)
	return fmt.Sprintf(`WITH ranked AS (
    SELECT
        *,
        ROW_NUMBER() OVER (
            PARTITION BY %s
            ORDER BY
                date DESC,
                CASE stage WHEN 'Incremental' THEN 1 ELSE 0 END DESC
        ) AS row_rank
    FROM read_parquet('%s', hive_partitioning = true, union_by_name = true)
)
SELECT * EXCLUDE (row_rank)
FROM ranked
WHERE row_rank = 1`, schema.KeyField, glob)
}

// CreateMergeViewSQL wraps MergeViewSQL as a named view, e.g. study_current.
func CreateMergeViewSQL(lakePath string, entity mirror.EntityType) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS\n%s", ViewName(entity), MergeViewSQL(lakePath, entity))
}

// ViewName is the merge view's SQL identifier for an entity type.
func ViewName(entity mirror.EntityType) string {
	return string(entity) + "_current"
}

// chunkGlob matches every chunk file under the entity's prefix, across all
// date and stage partitions.
func chunkGlob(lakePath string, entity mirror.EntityType) string {
	base := strings.TrimRight(lakePath, "/")
	return fmt.Sprintf("%s/%s/*/*/*.parquet", base, entity)
}

// CreateMergeViews registers the merge view for each entity type in the
// session. Entities with no chunks yet fail view resolution at query time,
// not at creation, so registering all four is always safe.
func (s *Session) CreateMergeViews(ctx context.Context, entities []mirror.EntityType) error {
	if len(entities) == 0 {
		entities = mirror.AllEntityTypes()
	}
	for _, et := range entities {
		stmt := CreateMergeViewSQL(s.config.LakePath, et)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create merge view for %s: %w", et, err)
		}
		s.logger.Debug().
			Str("view", ViewName(et)).
			Msg("Registered merge view")
	}
	return nil
}

// MergedCount returns the deduplicated row count for one entity type.
func (s *Session) MergedCount(ctx context.Context, entity mirror.EntityType) (int64, error) {
	var count int64
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM (%s)", MergeViewSQL(s.config.LakePath, entity))
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count merged %s rows: %w", entity, err)
	}
	return count, nil
}
