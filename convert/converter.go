// Package convert coerces raw dump records into Arrow rows under a fixed
// entity schema. Coercion is deliberately forgiving: a field that cannot be
// coerced is nulled and counted, and only an unusable key field rejects the
// whole record. This keeps columnar typing stable across snapshots whose
// source shapes drift.
package convert

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/omicslake/sra-mirror-lake/dump"
	"github.com/omicslake/sra-mirror-lake/mirror"
	"github.com/omicslake/sra-mirror-lake/schema"
)

// ErrMissingKey rejects a record whose key field is absent or unparsable.
// Such records are skipped and counted rather than emitted keyless.
var ErrMissingKey = errors.New("record has no usable key field")

// Converter accumulates coerced records into an Arrow RecordBuilder for one
// entity type. It is owned by a single extractor and is not safe for
// concurrent use.
type Converter struct {
	entity  mirror.EntityType
	schema  *arrow.Schema
	builder *array.RecordBuilder
	keyIdx  int
}

// NewConverter creates a converter for one entity's schema.
func NewConverter(alloc memory.Allocator, entity mirror.EntityType, s *arrow.Schema) (*Converter, error) {
	idx := s.FieldIndices(schema.KeyField)
	if len(idx) != 1 {
		return nil, fmt.Errorf("schema for %s has no %s field", entity, schema.KeyField)
	}
	return &Converter{
		entity:  entity,
		schema:  s,
		builder: array.NewRecordBuilder(alloc, s),
		keyIdx:  idx[0],
	}, nil
}

// Append coerces one raw record into the pending batch. It returns the number
// of fields nulled by coercion failures, or ErrMissingKey (leaving the batch
// untouched) when the key field is unusable.
func (c *Converter) Append(raw dump.RawRecord) (int, error) {
	key := c.lookup(raw, c.schema.Field(c.keyIdx).Name)
	if key.Kind != dump.KindScalar || strings.TrimSpace(key.Scalar) == "" {
		return 0, fmt.Errorf("%w: entity %s", ErrMissingKey, c.entity)
	}

	fieldErrors := 0
	for i, field := range c.schema.Fields() {
		v := c.lookup(raw, field.Name)
		appendValue(c.builder.Field(i), field.Type, v, &fieldErrors)
	}
	return fieldErrors, nil
}

// Len returns the number of rows pending in the batch.
func (c *Converter) Len() int {
	return c.builder.Field(c.keyIdx).Len()
}

// Build finalizes the pending rows into a record and resets the batch. The
// caller owns the returned record and must release it.
func (c *Converter) Build() arrow.Record {
	return c.builder.NewRecord()
}

// Release frees the underlying builders.
func (c *Converter) Release() {
	c.builder.Release()
}

// lookup finds the raw value feeding a schema field. Dump records name fields
// after their XML elements, so a schema field may appear directly, with an
// entity prefix (study_attributes feeding attributes), or one level down
// inside a nested record (descriptor/study_title feeding title).
func (c *Converter) lookup(raw dump.RawRecord, name string) dump.Value {
	candidates := []string{name, string(c.entity) + "_" + name}
	for _, cand := range candidates {
		if v, ok := raw[cand]; ok {
			return v
		}
	}

	// Deterministic one-level descent into nested records.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := raw[k]
		if v.Kind != dump.KindRecord {
			continue
		}
		for _, cand := range candidates {
			if nested, ok := v.Record[cand]; ok {
				return nested
			}
		}
	}
	return dump.Null()
}

// appendValue coerces v into the builder for the given type. Failures null
// the slot and bump the error counter; every call appends exactly one value
// so the columns stay aligned.
func appendValue(b array.Builder, dt arrow.DataType, v dump.Value, errCount *int) {
	if v.Kind == dump.KindNull {
		b.AppendNull()
		return
	}

	switch builder := b.(type) {
	case *array.StringBuilder:
		s, ok := asScalar(v)
		if !ok {
			builder.AppendNull()
			*errCount++
			return
		}
		builder.Append(s)

	case *array.Int64Builder:
		s, ok := asScalar(v)
		if !ok {
			builder.AppendNull()
			*errCount++
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			builder.AppendNull()
			*errCount++
			return
		}
		builder.Append(n)

	case *array.Int32Builder:
		s, ok := asScalar(v)
		if !ok {
			builder.AppendNull()
			*errCount++
			return
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			builder.AppendNull()
			*errCount++
			return
		}
		builder.Append(int32(n))

	case *array.Float64Builder:
		s, ok := asScalar(v)
		if !ok {
			builder.AppendNull()
			*errCount++
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			builder.AppendNull()
			*errCount++
			return
		}
		builder.Append(f)

	case *array.ListBuilder:
		elemType := dt.(*arrow.ListType).Elem()
		builder.Append(true)
		for _, elem := range listElements(v, elemType) {
			appendValue(builder.ValueBuilder(), elemType, elem, errCount)
		}

	case *array.StructBuilder:
		structType := dt.(*arrow.StructType)
		rec, ok := structRecord(v, structType)
		if !ok {
			builder.AppendNull()
			*errCount++
			return
		}
		builder.Append(true)
		for i := 0; i < structType.NumFields(); i++ {
			field := structType.Field(i)
			sub, ok := rec[field.Name]
			if !ok && field.Name == "id" {
				// Identifier elements carry their id as element text.
				sub, ok = rec["value"]
			}
			if !ok {
				sub = dump.Null()
			}
			appendValue(builder.FieldBuilder(i), field.Type, sub, errCount)
		}

	default:
		b.AppendNull()
		*errCount++
	}
}

// listElements normalizes a value feeding a list column. Lists pass through
// and scalars become singletons. A record is ambiguous: container elements
// holding a single child or children with mixed names (IDENTIFIERS with one
// PRIMARY_ID and one EXTERNAL_ID) surface as records too, so a record whose
// keys share nothing with the element struct is unwrapped into its children,
// in key order.
func listElements(v dump.Value, elemType arrow.DataType) []dump.Value {
	switch v.Kind {
	case dump.KindList:
		return v.List
	case dump.KindRecord:
		if st, ok := elemType.(*arrow.StructType); ok && recordMatchesStruct(v.Record, st) {
			return []dump.Value{v}
		}
		keys := make([]string, 0, len(v.Record))
		for k := range v.Record {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		elems := make([]dump.Value, 0, len(keys))
		for _, k := range keys {
			child := v.Record[k]
			if child.Kind == dump.KindList {
				elems = append(elems, child.List...)
				continue
			}
			elems = append(elems, child)
		}
		return elems
	default:
		return []dump.Value{v}
	}
}

// recordMatchesStruct reports whether any record key names a struct field,
// which distinguishes an element record from a container around one.
func recordMatchesStruct(rec dump.RawRecord, st *arrow.StructType) bool {
	for i := 0; i < st.NumFields(); i++ {
		if _, ok := rec[st.Field(i).Name]; ok {
			return true
		}
	}
	return false
}

// structRecord normalizes a value feeding a struct column. A bare scalar
// (PRIMARY_ID feeding the identifier struct) fills the struct's value or id
// field when it has one.
func structRecord(v dump.Value, st *arrow.StructType) (dump.RawRecord, bool) {
	switch v.Kind {
	case dump.KindRecord:
		return v.Record, true
	case dump.KindScalar:
		for _, name := range []string{"value", "id"} {
			if _, ok := st.FieldIdx(name); ok {
				return dump.RawRecord{name: v}, true
			}
		}
	}
	return nil, false
}

// asScalar extracts a string scalar, unwrapping records that keep element
// text under the "value" key.
func asScalar(v dump.Value) (string, bool) {
	switch v.Kind {
	case dump.KindScalar:
		return v.Scalar, true
	case dump.KindRecord:
		if inner, ok := v.Record["value"]; ok && inner.Kind == dump.KindScalar {
			return inner.Scalar, true
		}
	}
	return "", false
}
