// Package model defines the core data types shared by every backend.
package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Decay and strength weights. Search ranking, consolidation and pruning all
// depend on these exact values.
const (
	decayBase       = 0.977
	decayFloor      = 0.1
	importanceShare = 0.5
	recencyShare    = 0.3
	accessShare     = 0.2
	accessStep      = 0.05
)

// Memory represents a single remembered fact owned by one user.
type Memory struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Type          MemoryType     `json:"memory_type"`
	Content       string         `json:"content"`
	Context       map[string]any `json:"context,omitempty"`
	Importance    Importance     `json:"importance"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source"`
	Tags          []string       `json:"tags,omitempty"`
	AccessCount   int            `json:"access_count"`
	LastAccessed  *time.Time     `json:"last_accessed,omitempty"`
	Relationships []string       `json:"relationships,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// AgeDays returns the age of the memory in fractional days.
func (m *Memory) AgeDays(now time.Time) float64 {
	return now.Sub(m.Timestamp).Hours() / 24
}

// DecayFactor is recomputed from the timestamp on every call; it is never
// read back from storage.
func (m *Memory) DecayFactor(now time.Time) float64 {
	age := m.AgeDays(now)
	if age < 0 {
		age = 0
	}
	return math.Max(decayFloor, math.Pow(decayBase, age))
}

// Strength combines importance, time decay and access frequency into [0,1].
func (m *Memory) Strength(now time.Time) float64 {
	importance := float64(m.Importance) / float64(ImportanceCritical)
	access := math.Min(float64(m.AccessCount)*accessStep, 1.0)
	s := importance*importanceShare + m.DecayFactor(now)*recencyShare + access*accessShare
	return math.Min(1.0, s)
}

// UpdateAccess records a retrieval.
func (m *Memory) UpdateAccess(now time.Time) {
	m.AccessCount++
	t := now
	m.LastAccessed = &t
}

// HasTag reports whether the memory carries any of the given tags.
func (m *Memory) HasTag(tags ...string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to callers.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Context = CloneMap(m.Context)
	c.Metadata = CloneMap(m.Metadata)
	if m.Tags != nil {
		c.Tags = append([]string(nil), m.Tags...)
	}
	if m.Relationships != nil {
		c.Relationships = append([]string(nil), m.Relationships...)
	}
	if m.LastAccessed != nil {
		t := *m.LastAccessed
		c.LastAccessed = &t
	}
	return &c
}

// CloneMap deep-copies a JSON-like map into its canonical stored shape:
// objects are map[string]any, arrays are []any, integral numbers that fit
// are int64 and every other number is float64. Durable backends decode
// into the same shape, so a value reads back identically from any backend.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = CanonicalValue(v)
	}
	return dst
}

// CanonicalValue deep-copies v into its canonical JSON shape. Values of
// other Go types are passed through a JSON round trip.
func CanonicalValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool:
		return v
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = CanonicalValue(t[i])
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case json.Number:
		return canonicalNumber(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint:
		return canonicalNumber(json.Number(strconv.FormatUint(uint64(t), 10)))
	case uint64:
		return canonicalNumber(json.Number(strconv.FormatUint(t, 10)))
	case float32:
		return canonicalNumber(json.Number(strconv.FormatFloat(float64(t), 'g', -1, 32)))
	case float64:
		return canonicalFloat(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := DecodeJSON(b, &out); err != nil {
		return v
	}
	return CanonicalValue(out)
}

// DecodeJSON unmarshals data keeping number precision; dst then holds
// json.Number values that CanonicalValue resolves.
func DecodeJSON(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

// DecodeJSONMap decodes a JSON object into its canonical shape.
func DecodeJSONMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := DecodeJSON(data, &m); err != nil {
		return nil, err
	}
	return CloneMap(m), nil
}

func canonicalNumber(n json.Number) any {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return string(n)
	}
	return canonicalFloat(f)
}

// canonicalFloat stores whole numbers in int64 range as int64, matching
// how their JSON text decodes.
func canonicalFloat(f float64) any {
	if f == math.Trunc(f) && f >= -1<<63 && f < 1<<63 {
		return int64(f)
	}
	return f
}
