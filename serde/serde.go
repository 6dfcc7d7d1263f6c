// Package serde provides lossless encode/decode of "rich" state values —
// plain JSON shapes plus dates, big integers, regular expressions, and
// Map/Set collections with non-string keys — together with the stable
// comparable form the runtime uses for clone and deep-equality.
//
// The encoding follows the JSON-LD-flavored tagging eve/db/repository uses
// for semantic documents (a reserved "$type" discriminator next to the
// payload) rather than a bespoke binary format: it is simple to eyeball in
// logs and round-trips through any opaque-bytes Store.
package serde

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"time"
)

const (
	tagDate   = "date"
	tagBigInt = "bigint"
	tagRegexp = "regexp"
	tagSet    = "set"
	tagMap    = "map"
)

// Set is an unordered collection of distinct values, the serde equivalent of
// a JS Set. Element equality is determined by canonical encoding, so two
// structurally-equal elements (even if referentially distinct) collapse to
// one.
type Set struct {
	items []interface{}
}

// NewSet builds a Set from the given elements, discarding duplicates.
func NewSet(items ...interface{}) *Set {
	s := &Set{}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v into the set if an equal element is not already present.
func (s *Set) Add(v interface{}) {
	if s.Contains(v) {
		return
	}
	s.items = append(s.items, v)
}

// Contains reports whether an element canonically equal to v is present.
func (s *Set) Contains(v interface{}) bool {
	for _, it := range s.items {
		if DeepEqual(it, v) {
			return true
		}
	}
	return false
}

// Len returns the number of elements in the set.
func (s *Set) Len() int { return len(s.items) }

// Elements returns the set's members in canonical (encoding-sorted) order,
// so two sets with the same contents produce the same slice regardless of
// insertion order.
func (s *Set) Elements() []interface{} {
	type entry struct {
		key   string
		value interface{}
	}
	entries := make([]entry, len(s.items))
	for i, it := range s.items {
		b, err := Encode(it)
		key := string(b)
		if err != nil {
			key = fmt.Sprintf("%v", it)
		}
		entries[i] = entry{key: key, value: it}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	out := make([]interface{}, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// MapEntry is one key/value pair of a RichMap.
type MapEntry struct {
	Key   interface{}
	Value interface{}
}

// RichMap is a Map whose keys may be any serde-supported value, the serde
// equivalent of a JS Map. Go's map[string]interface{} is used directly for
// the common string-keyed case; RichMap exists for everything else.
type RichMap struct {
	entries []MapEntry
}

// NewRichMap builds an empty RichMap.
func NewRichMap() *RichMap { return &RichMap{} }

// Set upserts key -> value, replacing any existing canonically-equal key.
func (m *RichMap) Set(key, value interface{}) {
	for i, e := range m.entries {
		if DeepEqual(e.Key, key) {
			m.entries[i].Value = value
			return
		}
	}
	m.entries = append(m.entries, MapEntry{Key: key, Value: value})
}

// Get looks up key, returning ok=false if no canonically-equal key exists.
func (m *RichMap) Get(key interface{}) (interface{}, bool) {
	for _, e := range m.entries {
		if DeepEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of entries.
func (m *RichMap) Len() int { return len(m.entries) }

// Entries returns the map's entries sorted by canonically-encoded key, so
// two maps with the same contents produce the same slice regardless of
// insertion order.
func (m *RichMap) Entries() []MapEntry {
	out := make([]MapEntry, len(m.entries))
	copy(out, m.entries)
	sort.Slice(out, func(i, j int) bool {
		bi, _ := Encode(out[i].Key)
		bj, _ := Encode(out[j].Key)
		return string(bi) < string(bj)
	})
	return out
}

// Encode produces the canonical byte form of v: a deterministic JSON
// encoding in which map keys are sorted and rich values carry an explicit
// "$type" discriminator. Two values that Encode to the same bytes are
// considered equal by DeepEqual.
func Encode(v interface{}) ([]byte, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return nil, fmt.Errorf("serde: encode: %w", err)
	}
	return json.Marshal(canon)
}

// Decode parses bytes produced by Encode back into Go values. Plain JSON
// shapes decode to map[string]interface{}, []interface{}, string, float64,
// bool, or nil; tagged rich values decode to time.Time, *big.Int,
// *regexp.Regexp, *Set, or *RichMap respectively.
func Decode(data []byte) (interface{}, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("serde: decode: %w", err)
	}
	return untag(generic)
}

// Clone returns an independent deep copy of v obtained via Encode+Decode, so
// callers cannot mutate runtime-owned state through the returned value.
func Clone(v interface{}) (interface{}, error) {
	b, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// MustClone is Clone for call sites that have already validated v encodes
// cleanly (e.g. it was itself produced by a prior Decode) and treat a clone
// failure as a programming error.
func MustClone(v interface{}) interface{} {
	c, err := Clone(v)
	if err != nil {
		panic(fmt.Sprintf("serde: MustClone: %v", err))
	}
	return c
}

// DeepEqual reports whether a and b serialize to the identical canonical
// byte sequence. It falls back to reflect.DeepEqual only when either value
// fails to encode (e.g. it contains a channel or function).
func DeepEqual(a, b interface{}) bool {
	ab, aerr := Encode(a)
	bb, berr := Encode(b)
	if aerr != nil || berr != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}

// canonicalize walks v, producing a tree of only map[string]interface{},
// []interface{}, string, float64, bool, and nil (json.Marshal sorts
// map[string]interface{} keys automatically, which is what makes the
// resulting bytes canonical).
func canonicalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool:
		return val, nil
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	case time.Time:
		return map[string]interface{}{"$type": tagDate, "value": val.UTC().Format(time.RFC3339Nano)}, nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return canonicalize(*val)
	case *big.Int:
		if val == nil {
			return nil, nil
		}
		return map[string]interface{}{"$type": tagBigInt, "value": val.String()}, nil
	case *regexp.Regexp:
		if val == nil {
			return nil, nil
		}
		return map[string]interface{}{"$type": tagRegexp, "value": val.String()}, nil
	case *Set:
		if val == nil {
			return nil, nil
		}
		elems := make([]interface{}, 0, val.Len())
		for _, e := range val.Elements() {
			c, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, c)
		}
		return map[string]interface{}{"$type": tagSet, "value": elems}, nil
	case *RichMap:
		if val == nil {
			return nil, nil
		}
		pairs := make([]interface{}, 0, val.Len())
		for _, e := range val.Entries() {
			ck, err := canonicalize(e.Key)
			if err != nil {
				return nil, err
			}
			cv, err := canonicalize(e.Value)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []interface{}{ck, cv})
		}
		return map[string]interface{}{"$type": tagMap, "value": pairs}, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			c, err := canonicalize(v)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			c, err := canonicalize(v)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return canonicalizeViaJSON(v)
	}
}

// canonicalizeViaJSON handles arbitrary struct/slice/map types by round
// tripping them through encoding/json (honoring their json tags, the same
// way eve/db marshals ActionState) and then canonicalizing the resulting
// generic tree.
func canonicalizeViaJSON(v interface{}) (interface{}, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("unsupported value of type %T: %w", v, err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return canonicalize(generic)
}

// untag reverses canonicalize's "$type" wrapping, reconstructing
// time.Time/*big.Int/*regexp.Regexp/*Set/*RichMap from their tagged form.
func untag(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if typ, ok := val["$type"].(string); ok {
			return untagTyped(typ, val["value"])
		}
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			u, err := untag(v)
			if err != nil {
				return nil, err
			}
			out[k] = u
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			u, err := untag(v)
			if err != nil {
				return nil, err
			}
			out[i] = u
		}
		return out, nil
	default:
		return val, nil
	}
}

func untagTyped(typ string, raw interface{}) (interface{}, error) {
	switch typ {
	case tagDate:
		s, _ := raw.(string)
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("serde: bad date value %q: %w", s, err)
		}
		return t, nil
	case tagBigInt:
		s, _ := raw.(string)
		n := new(big.Int)
		if _, ok := n.SetString(s, 10); !ok {
			return nil, fmt.Errorf("serde: bad bigint value %q", s)
		}
		return n, nil
	case tagRegexp:
		s, _ := raw.(string)
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("serde: bad regexp value %q: %w", s, err)
		}
		return re, nil
	case tagSet:
		elems, _ := raw.([]interface{})
		s := NewSet()
		for _, e := range elems {
			u, err := untag(e)
			if err != nil {
				return nil, err
			}
			s.Add(u)
		}
		return s, nil
	case tagMap:
		pairs, _ := raw.([]interface{})
		m := NewRichMap()
		for _, p := range pairs {
			pair, ok := p.([]interface{})
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("serde: malformed map entry %v", p)
			}
			k, err := untag(pair[0])
			if err != nil {
				return nil, err
			}
			v, err := untag(pair[1])
			if err != nil {
				return nil, err
			}
			m.Set(k, v)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("serde: unknown $type %q", typ)
	}
}
