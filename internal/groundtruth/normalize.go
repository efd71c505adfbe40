// Package groundtruth parses ground-truth polygon payloads written by different
// export tools into canonical polygons, and fetches them by URL.
package groundtruth

import (
	"encoding/json"
	"fmt"

	"polyscore/internal/geometry"
)

// Encoding is the recognized shape of one ground-truth object.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	// EncodingPointList is an explicit "points": [[x,y], ...] list.
	EncodingPointList
	// EncodingFlat is "segmentation": [x1,y1,x2,y2,...].
	EncodingFlat
	// EncodingWrappedFlat is "segmentation": [[x1,y1,x2,y2,...]].
	EncodingWrappedFlat
	// EncodingDoubleNested is "segmentation": [[[x,y], ...]]; the first ring is used.
	EncodingDoubleNested
	// EncodingNestedPairs is "segmentation": [[x,y], ...].
	EncodingNestedPairs
	// EncodingFlattened is the fallback: flatten two levels and pair.
	EncodingFlattened
)

func (e Encoding) String() string {
	switch e {
	case EncodingPointList:
		return "points"
	case EncodingFlat:
		return "flat"
	case EncodingWrappedFlat:
		return "wrapped_flat"
	case EncodingDoubleNested:
		return "double_nested"
	case EncodingNestedPairs:
		return "nested_pairs"
	case EncodingFlattened:
		return "flattened"
	default:
		return "unknown"
	}
}

// Object is one raw ground-truth record, decoded generically so that every
// encoding can be inspected.
type Object struct {
	ID           any    `json:"id,omitempty"`
	Label        string `json:"label,omitempty"`
	Points       []any  `json:"points,omitempty"`
	Segmentation []any  `json:"segmentation,omitempty"`
}

// UnmarshalJSON never fails: fields of the wrong shape are left empty so the
// object normalizes to EncodingUnknown instead of rejecting the document.
func (o *Object) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID           any `json:"id"`
		Label        any `json:"label"`
		Points       any `json:"points"`
		Segmentation any `json:"segmentation"`
	}
	*o = Object{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	o.ID = raw.ID
	o.Label, _ = raw.Label.(string)
	o.Points, _ = raw.Points.([]any)
	o.Segmentation, _ = raw.Segmentation.([]any)
	return nil
}

// Payload is a ground-truth document.
type Payload struct {
	Objects []Object `json:"objects"`
}

// Normalized is the canonical form of one object.
type Normalized struct {
	Index    int
	Label    string
	Encoding Encoding
	Polygon  geometry.Polygon
}

// Set is a normalized payload. Order carries no meaning for scoring.
type Set struct {
	Objects []Normalized
}

// Polygons returns every object's polygon, including empty ones.
func (s *Set) Polygons() []geometry.Polygon {
	if s == nil {
		return nil
	}
	out := make([]geometry.Polygon, 0, len(s.Objects))
	for _, o := range s.Objects {
		out = append(out, o.Polygon)
	}
	return out
}

// Scorable counts objects with a positive area.
func (s *Set) Scorable() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, o := range s.Objects {
		if geometry.Area(o.Polygon) > 0 {
			n++
		}
	}
	return n
}

// Parse decodes and normalizes a ground-truth document.
func Parse(data []byte) (*Set, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid ground truth json: %w", err)
	}
	return Normalize(p), nil
}

// Normalize converts every object. Objects that cannot be read yield an empty
// polygon rather than an error.
func Normalize(p Payload) *Set {
	set := &Set{Objects: make([]Normalized, 0, len(p.Objects))}
	for i, obj := range p.Objects {
		enc, poly := NormalizeObject(obj)
		set.Objects = append(set.Objects, Normalized{
			Index:    i,
			Label:    obj.Label,
			Encoding: enc,
			Polygon:  poly,
		})
	}
	return set
}

// variant pairs a recognition predicate with its transformation.
type variant struct {
	enc    Encoding
	match  func(Object) bool
	decode func(Object) geometry.Polygon
}

// variants is the required precedence order.
var variants = []variant{
	{EncodingPointList, matchPointList, decodePointList},
	{EncodingFlat, matchFlat, decodeFlat},
	{EncodingWrappedFlat, matchWrappedFlat, decodeWrappedFlat},
	{EncodingDoubleNested, matchDoubleNested, decodeDoubleNested},
	{EncodingNestedPairs, matchNestedPairs, decodeNestedPairs},
	{EncodingFlattened, matchFlattened, decodeFlattened},
}

// NormalizeObject applies the first matching variant. A result with fewer than
// two points is reported as an empty polygon.
func NormalizeObject(obj Object) (Encoding, geometry.Polygon) {
	for _, v := range variants {
		if !v.match(obj) {
			continue
		}
		poly := v.decode(obj)
		if len(poly) < 2 {
			return v.enc, nil
		}
		return v.enc, poly
	}
	return EncodingUnknown, nil
}

// Match reports whether obj is recognized by the encoding's predicate, ignoring
// precedence.
func (e Encoding) Match(obj Object) bool {
	for _, v := range variants {
		if v.enc == e {
			return v.match(obj)
		}
	}
	return false
}

// Decode applies the encoding's transformation alone.
func (e Encoding) Decode(obj Object) geometry.Polygon {
	for _, v := range variants {
		if v.enc == e {
			return v.decode(obj)
		}
	}
	return nil
}

func matchPointList(o Object) bool { return len(o.Points) > 0 }

func decodePointList(o Object) geometry.Polygon {
	return pairsOf(o.Points)
}

func matchFlat(o Object) bool {
	return len(o.Segmentation) > 0 && allNumbers(o.Segmentation)
}

func decodeFlat(o Object) geometry.Polygon {
	return pairUp(numbers(o.Segmentation))
}

func matchWrappedFlat(o Object) bool {
	if len(o.Segmentation) != 1 {
		return false
	}
	inner, ok := o.Segmentation[0].([]any)
	return ok && allNumbers(inner)
}

func decodeWrappedFlat(o Object) geometry.Polygon {
	inner, _ := o.Segmentation[0].([]any)
	return pairUp(numbers(inner))
}

func matchDoubleNested(o Object) bool {
	if len(o.Segmentation) == 0 {
		return false
	}
	ring, ok := o.Segmentation[0].([]any)
	if !ok || len(ring) == 0 {
		return false
	}
	_, ok = ring[0].([]any)
	return ok
}

func decodeDoubleNested(o Object) geometry.Polygon {
	ring, _ := o.Segmentation[0].([]any)
	return pairsOf(ring)
}

func matchNestedPairs(o Object) bool {
	if len(o.Segmentation) == 0 {
		return false
	}
	first, ok := o.Segmentation[0].([]any)
	if !ok || len(first) == 0 {
		return false
	}
	_, ok = first[0].(float64)
	return ok
}

func decodeNestedPairs(o Object) geometry.Polygon {
	return pairsOf(o.Segmentation)
}

func matchFlattened(o Object) bool { return len(o.Segmentation) > 0 }

func decodeFlattened(o Object) geometry.Polygon {
	return pairUp(numbers(flatten(o.Segmentation, 2)))
}

// pairsOf reads each element as an [x, y, ...] pair; malformed entries are skipped.
func pairsOf(items []any) geometry.Polygon {
	var out geometry.Polygon
	for _, it := range items {
		pair, ok := it.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		x, okX := pair[0].(float64)
		y, okY := pair[1].(float64)
		if !okX || !okY {
			continue
		}
		out = append(out, geometry.Pt(x, y))
	}
	return out
}

// pairUp groups consecutive coordinates. A dangling odd coordinate is dropped.
func pairUp(vals []float64) geometry.Polygon {
	out := make(geometry.Polygon, 0, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		out = append(out, geometry.Pt(vals[i], vals[i+1]))
	}
	return out
}

func allNumbers(items []any) bool {
	for _, it := range items {
		if _, ok := it.(float64); !ok {
			return false
		}
	}
	return true
}

func numbers(items []any) []float64 {
	out := make([]float64, 0, len(items))
	for _, it := range items {
		if v, ok := it.(float64); ok {
			out = append(out, v)
		}
	}
	return out
}

func flatten(items []any, depth int) []any {
	var out []any
	for _, it := range items {
		if nested, ok := it.([]any); ok && depth > 0 {
			out = append(out, flatten(nested, depth-1)...)
			continue
		}
		out = append(out, it)
	}
	return out
}
