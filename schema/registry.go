package schema

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/omicslake/sra-mirror-lake/mirror"
)

// KeyField is the natural identifier column present in every entity schema.
// A record whose key field cannot be parsed is skipped, not nulled.
const KeyField = "accession"

// Registry maps each entity type to its fixed Arrow schema. The registry is
// immutable after construction and safe for concurrent use without locking;
// it is injected into extractors rather than held as process-wide state.
type Registry struct {
	schemas  map[mirror.EntityType]*arrow.Schema
	versions map[mirror.EntityType]string
}

// NewRegistry builds the registry with the built-in schema for each entity
// type. versions overrides the recorded schema version per entity; entities
// absent from the map use DefaultSchemaVersion.
func NewRegistry(versions map[string]string) *Registry {
	r := &Registry{
		schemas:  make(map[mirror.EntityType]*arrow.Schema),
		versions: make(map[mirror.EntityType]string),
	}
	for _, entity := range mirror.AllEntityTypes() {
		version := DefaultSchemaVersion
		if v, ok := versions[string(entity)]; ok {
			version = v
		}
		r.versions[entity] = version
		r.schemas[entity] = buildSchema(entity, version)
	}
	return r
}

// DefaultSchemaVersion is recorded into chunk metadata unless overridden in
// configuration.
const DefaultSchemaVersion = "1"

// Get returns the schema for an entity type.
func (r *Registry) Get(entity mirror.EntityType) (*arrow.Schema, error) {
	s, ok := r.schemas[entity]
	if !ok {
		return nil, fmt.Errorf("no schema registered for entity type %q", entity)
	}
	return s, nil
}

// Version returns the configured schema version for an entity type.
func (r *Registry) Version(entity mirror.EntityType) string {
	return r.versions[entity]
}

func buildSchema(entity mirror.EntityType, version string) *arrow.Schema {
	md := arrow.NewMetadata(
		[]string{"entity_type", "schema_version"},
		[]string{string(entity), version},
	)

	var fields []arrow.Field
	switch entity {
	case mirror.EntityStudy:
		fields = studyFields()
	case mirror.EntitySample:
		fields = sampleFields()
	case mirror.EntityExperiment:
		fields = experimentFields()
	case mirror.EntityRun:
		fields = runFields()
	}
	return arrow.NewSchema(fields, &md)
}

// Shared nested column types across entity schemas.

func identifierType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "namespace", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "id", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "uuid", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

func attributeType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "tag", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "value", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

func xrefType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "db", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "id", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

func fileAlternativeType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "url", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "free_egress", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "access_type", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "org", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

func fileType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "cluster", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "filename", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "url", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "date", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "md5", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "sratoolkit", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "alternatives", Type: arrow.ListOf(fileAlternativeType()), Nullable: true},
	)
}

func runReadType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "index", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "mean_length", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		arrow.Field{Name: "sd_length", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	)
}

func baseCountType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "base", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	)
}

func qualityType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "quality", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		arrow.Field{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	)
}

func taxCountEntryType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "rank", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "parent", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		arrow.Field{Name: "total_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "self_count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "tax_id", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	)
}

func taxAnalysisType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "nspot_analyze", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "total_spots", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "mapped_spots", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "tax_counts", Type: arrow.ListOf(taxCountEntryType()), Nullable: true},
	)
}

func experimentReadType() arrow.DataType {
	return arrow.StructOf(
		arrow.Field{Name: "base_coord", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "read_class", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "read_index", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: "read_type", Type: arrow.BinaryTypes.String, Nullable: true},
	)
}

func studyFields() []arrow.Field {
	return []arrow.Field{
		{Name: "accession", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "study_accession", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "alias", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "description", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "abstract", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "study_type", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "center_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "broker_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "bioproject", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "geo", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "identifiers", Type: arrow.ListOf(identifierType()), Nullable: true},
		{Name: "attributes", Type: arrow.ListOf(attributeType()), Nullable: true},
		{Name: "xrefs", Type: arrow.ListOf(xrefType()), Nullable: true},
		{Name: "pubmed_ids", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	}
}

func sampleFields() []arrow.Field {
	return []arrow.Field{
		{Name: "accession", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "alias", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "organism", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "description", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "taxon_id", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "geo", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "biosample", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "identifiers", Type: arrow.ListOf(identifierType()), Nullable: true},
		{Name: "attributes", Type: arrow.ListOf(attributeType()), Nullable: true},
		{Name: "xrefs", Type: arrow.ListOf(xrefType()), Nullable: true},
	}
}

func experimentFields() []arrow.Field {
	return []arrow.Field{
		{Name: "accession", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "alias", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "description", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "design", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "center_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "study_accession", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "sample_accession", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "platform", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "instrument_model", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_construction_protocol", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_layout", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_layout_orientation", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_layout_length", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_layout_sdev", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_strategy", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_source", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "library_selection", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "spot_length", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "nreads", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "identifiers", Type: arrow.ListOf(identifierType()), Nullable: true},
		{Name: "attributes", Type: arrow.ListOf(attributeType()), Nullable: true},
		{Name: "xrefs", Type: arrow.ListOf(xrefType()), Nullable: true},
		{Name: "reads", Type: arrow.ListOf(experimentReadType()), Nullable: true},
	}
}

func runFields() []arrow.Field {
	return []arrow.Field{
		{Name: "accession", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "alias", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "experiment_accession", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "title", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "total_spots", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "total_bases", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "avg_length", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "identifiers", Type: arrow.ListOf(identifierType()), Nullable: true},
		{Name: "attributes", Type: arrow.ListOf(attributeType()), Nullable: true},
		{Name: "files", Type: arrow.ListOf(fileType()), Nullable: true},
		{Name: "reads", Type: arrow.ListOf(runReadType()), Nullable: true},
		{Name: "base_counts", Type: arrow.ListOf(baseCountType()), Nullable: true},
		{Name: "qualities", Type: arrow.ListOf(qualityType()), Nullable: true},
		{Name: "tax_analysis", Type: taxAnalysisType(), Nullable: true},
	}
}
