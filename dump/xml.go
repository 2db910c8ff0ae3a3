package dump

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/omicslake/sra-mirror-lake/mirror"
)

// recordTags maps each entity type to the XML element holding one record.
// Dumps wrap records in a set element, e.g.
//
//	<STUDY_SET><STUDY accession="SRP000001">...</STUDY>...</STUDY_SET>
var recordTags = map[mirror.EntityType]string{
	mirror.EntityStudy:      "STUDY",
	mirror.EntitySample:     "SAMPLE",
	mirror.EntityExperiment: "EXPERIMENT",
	mirror.EntityRun:        "RUN",
}

// Reader streams raw records out of one dump's XML byte stream. Records are
// decoded one element at a time; the dump is never materialized in full.
type Reader struct {
	dec       *xml.Decoder
	recordTag string
}

// NewReader creates a streaming record reader for one entity's dump.
func NewReader(r io.Reader, entity mirror.EntityType) (*Reader, error) {
	tag, ok := recordTags[entity]
	if !ok {
		return nil, fmt.Errorf("no record tag known for entity type %q", entity)
	}
	return &Reader{
		dec:       xml.NewDecoder(r),
		recordTag: tag,
	}, nil
}

// Next returns the next raw record, or io.EOF when the stream is exhausted.
// The stream cannot be rewound.
func (r *Reader) Next() (RawRecord, error) {
	for {
		tok, err := r.dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read dump stream: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != r.recordTag {
			continue
		}

		var node xmlNode
		if err := r.dec.DecodeElement(&node, &start); err != nil {
			return nil, fmt.Errorf("failed to decode %s element: %w", r.recordTag, err)
		}
		v := node.toValue()
		if v.Kind == KindRecord {
			return v.Record, nil
		}
		// Degenerate record elements (no attributes, uniform children) still
		// surface as a record.
		return RawRecord{"value": v}, nil
	}
}

// xmlNode captures one element subtree generically.
type xmlNode struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []xmlNode
}

func (n *xmlNode) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	n.name = start.Name.Local
	n.attrs = start.Attr
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var child xmlNode
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			n.children = append(n.children, child)
		case xml.CharData:
			n.text += string(t)
		case xml.EndElement:
			return nil
		}
	}
}

// toValue converts an element subtree into the raw record shape:
//
//   - attributes become scalar fields keyed by lowercased name
//   - a text-only element becomes a scalar
//   - an element with attributes or children becomes a record; non-blank text
//     is kept under the "value" key
//   - repeated same-name children become a list
//   - a pure wrapper element (children all sharing one name, no attributes,
//     no text) collapses to the list of its children, so
//     <IDENTIFIERS><EXTERNAL_ID/>...</IDENTIFIERS> reads as one list field
func (n *xmlNode) toValue() Value {
	text := strings.TrimSpace(n.text)

	if len(n.attrs) == 0 && len(n.children) == 0 {
		if text == "" {
			return Null()
		}
		return Scalar(text)
	}

	if collapsed, ok := n.collapseWrapper(); ok {
		return collapsed
	}

	rec := make(RawRecord)
	for _, attr := range n.attrs {
		rec[strings.ToLower(attr.Name.Local)] = Scalar(attr.Value)
	}

	byName := make(map[string][]Value)
	var order []string
	for i := range n.children {
		child := &n.children[i]
		key := strings.ToLower(child.name)
		if _, seen := byName[key]; !seen {
			order = append(order, key)
		}
		byName[key] = append(byName[key], child.toValue())
	}
	for _, key := range order {
		vals := byName[key]
		if len(vals) == 1 {
			rec[key] = vals[0]
		} else {
			rec[key] = List(vals...)
		}
	}

	if text != "" {
		rec["value"] = Scalar(text)
	}

	return Record(rec)
}

func (n *xmlNode) collapseWrapper() (Value, bool) {
	if len(n.attrs) > 0 || len(n.children) < 2 || strings.TrimSpace(n.text) != "" {
		return Value{}, false
	}
	first := n.children[0].name
	for i := range n.children {
		if n.children[i].name != first {
			return Value{}, false
		}
	}
	var vals []Value
	for i := range n.children {
		vals = append(vals, n.children[i].toValue())
	}
	return List(vals...), true
}
