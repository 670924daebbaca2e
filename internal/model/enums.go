package model

import (
	"fmt"
	"strings"
)

// MemoryType classifies a memory.
type MemoryType string

const (
	MemoryEpisodic   MemoryType = "episodic"
	MemorySemantic   MemoryType = "semantic"
	MemoryProcedural MemoryType = "procedural"
	MemoryEmotional  MemoryType = "emotional"
	MemoryRelational MemoryType = "relational"
)

// MemoryTypes lists every valid memory type.
var MemoryTypes = []MemoryType{MemoryEpisodic, MemorySemantic, MemoryProcedural, MemoryEmotional, MemoryRelational}

// ParseMemoryType accepts the enum name in any case ("SEMANTIC", "semantic").
func ParseMemoryType(s string) (MemoryType, error) {
	v := MemoryType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range MemoryTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: memory_type %q", ErrInvalidEnum, s)
}

func (t MemoryType) MarshalText() ([]byte, error) { return []byte(t), nil }

func (t *MemoryType) UnmarshalText(b []byte) error {
	v, err := ParseMemoryType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Importance is an ordinal from TRIVIAL (1) to CRITICAL (5). It is shared by
// memories and context items.
type Importance int

const (
	ImportanceTrivial Importance = iota + 1
	ImportanceLow
	ImportanceMedium
	ImportanceHigh
	ImportanceCritical
)

var importanceNames = map[Importance]string{
	ImportanceTrivial:  "TRIVIAL",
	ImportanceLow:      "LOW",
	ImportanceMedium:   "MEDIUM",
	ImportanceHigh:     "HIGH",
	ImportanceCritical: "CRITICAL",
}

func (i Importance) String() string {
	if n, ok := importanceNames[i]; ok {
		return n
	}
	return fmt.Sprintf("Importance(%d)", int(i))
}

// Valid reports whether i is inside the 1..5 range.
func (i Importance) Valid() bool {
	return i >= ImportanceTrivial && i <= ImportanceCritical
}

// ParseImportance accepts the enum name in any case ("HIGH", "high").
func ParseImportance(s string) (Importance, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range importanceNames {
		if n == want {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: importance %q", ErrInvalidEnum, s)
}

func (i Importance) MarshalText() ([]byte, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("%w: importance %d", ErrInvalidEnum, int(i))
	}
	return []byte(i.String()), nil
}

func (i *Importance) UnmarshalText(b []byte) error {
	v, err := ParseImportance(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// SessionStatus is a session lifecycle state.
type SessionStatus string

const (
	SessionCreated SessionStatus = "created"
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionClosed  SessionStatus = "closed"
	SessionExpired SessionStatus = "expired"
)

// ParseSessionStatus accepts the enum name in any case.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch v := SessionStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case SessionCreated, SessionActive, SessionPaused, SessionClosed, SessionExpired:
		return v, nil
	}
	return "", fmt.Errorf("%w: session status %q", ErrInvalidEnum, s)
}

// OperationStatus is a long-running operation lifecycle state.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationPaused    OperationStatus = "paused"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationCancelled OperationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationFailed || s == OperationCancelled
}

// ParseOperationStatus accepts the enum name in any case.
func ParseOperationStatus(s string) (OperationStatus, error) {
	switch v := OperationStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case OperationPending, OperationRunning, OperationPaused,
		OperationCompleted, OperationFailed, OperationCancelled:
		return v, nil
	}
	return "", fmt.Errorf("%w: operation status %q", ErrInvalidEnum, s)
}
