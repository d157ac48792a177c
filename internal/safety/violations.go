package safety

import (
	"sync"
	"time"
)

// Kind classifies a violation.
type Kind string

const (
	KindBannedWord           Kind = "banned_word"
	KindInappropriatePattern Kind = "inappropriate_pattern"
	KindNegativeSentiment    Kind = "negative_sentiment"
	KindAgeInappropriate     Kind = "age_inappropriate"
	KindModeration           Kind = "moderation_api"
)

// Severity ranks a violation.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Direction tells whether the offending text came from a player or the generator.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Violation is an immutable record of one rejection.
type Violation struct {
	Kind      Kind              `json:"type"`
	Severity  Severity          `json:"severity"`
	Reason    string            `json:"reason"`
	Direction Direction         `json:"direction"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Summary aggregates the violation log.
type Summary struct {
	Total      int              `json:"total"`
	ByKind     map[Kind]int     `json:"by_type"`
	BySeverity map[Severity]int `json:"by_severity"`
	Recent     []Violation      `json:"recent"`
}

// Log is an append-only violation log. Counters cover every record ever appended.
// A positive retention keeps only the most recent records in memory.
type Log struct {
	mu         sync.Mutex
	retain     int
	records    []Violation
	total      int
	byKind     map[Kind]int
	bySeverity map[Severity]int
}

// NewLog creates a log that retains up to retain records. retain <= 0 keeps every record.
func NewLog(retain int) *Log {
	return &Log{
		retain:     retain,
		byKind:     make(map[Kind]int),
		bySeverity: make(map[Severity]int),
	}
}

// Append records v.
func (l *Log) Append(v Violation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	l.byKind[v.Kind]++
	l.bySeverity[v.Severity]++
	l.records = append(l.records, v)
	if over := len(l.records) - l.retain; l.retain > 0 && over > 0 {
		l.records = append(l.records[:0:0], l.records[over:]...)
	}
}

// Summary returns counts plus the last recent records, oldest first.
func (l *Log) Summary(recent int) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := Summary{
		Total:      l.total,
		ByKind:     make(map[Kind]int, len(l.byKind)),
		BySeverity: make(map[Severity]int, len(l.bySeverity)),
		Recent:     []Violation{},
	}
	for k, n := range l.byKind {
		out.ByKind[k] = n
	}
	for s, n := range l.bySeverity {
		out.BySeverity[s] = n
	}
	if recent <= 0 {
		return out
	}
	start := len(l.records) - recent
	if start < 0 {
		start = 0
	}
	out.Recent = append(out.Recent, l.records[start:]...)
	return out
}
