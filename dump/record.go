// Package dump turns mirror dump byte streams into a lazy sequence of raw,
// semi-structured records. The sequence is finite and non-restartable; only
// one record is resident in memory at a time.
package dump

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindList
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	}
	return "unknown"
}

// Value is one field of a raw record: a scalar, a list, a nested record, or
// null. Raw records carry no type information beyond this shape; coercion
// against the entity schema happens downstream.
type Value struct {
	Kind   Kind
	Scalar string
	List   []Value
	Record RawRecord
}

// RawRecord is one semi-structured record keyed by lowercased field name.
type RawRecord map[string]Value

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// Scalar wraps a string scalar.
func Scalar(s string) Value { return Value{Kind: KindScalar, Scalar: s} }

// List wraps a list of values.
func List(vs ...Value) Value { return Value{Kind: KindList, List: vs} }

// Record wraps a nested record.
func Record(r RawRecord) Value { return Value{Kind: KindRecord, Record: r} }
