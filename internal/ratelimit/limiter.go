package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retry_after"`
	Policy     string        `json:"policy,omitempty"`
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below 1 for a denial.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

type entry struct {
	at     time.Time
	weight int
}

type windowKey struct {
	ns     Namespace
	key    string
	policy string
}

// Stats reports limiter occupancy.
type Stats struct {
	KeysByNamespace map[Namespace]int `json:"keys_by_namespace"`
	TrackedWindows  int               `json:"tracked_windows"`
	Policies        []Policy          `json:"policies"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter is an in-process sliding-window limiter. Check-and-append is atomic,
// so concurrent callers can never push a window past its cap.
type Limiter struct {
	mu       sync.Mutex
	policies map[string]Policy
	order    []string
	windows  map[windowKey][]entry
	now      func() time.Time
}

// New constructs a Limiter for the given policy table.
func New(policies []Policy, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		policies: make(map[string]Policy, len(policies)),
		windows:  make(map[windowKey][]entry),
		now:      time.Now,
	}
	for _, p := range policies {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := l.policies[p.Name]; dup {
			return nil, fmt.Errorf("duplicate policy %s", p.Name)
		}
		l.policies[p.Name] = p
		l.order = append(l.order, p.Name)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Check records one request against every named policy, or denies without recording.
func (l *Limiter) Check(ns Namespace, key string, policies ...string) (Decision, error) {
	return l.CheckWeighted(ns, key, 1, policies...)
}

// CheckWeighted is Check with an explicit entry weight.
func (l *Limiter) CheckWeighted(ns Namespace, key string, weight int, policies ...string) (Decision, error) {
	if weight <= 0 {
		return Decision{}, fmt.Errorf("weight must be positive")
	}
	if len(policies) == 0 {
		return Decision{}, fmt.Errorf("at least one policy is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	resolved := make([]Policy, 0, len(policies))
	for _, name := range policies {
		p, ok := l.policies[name]
		if !ok {
			return Decision{}, fmt.Errorf("unknown policy %s", name)
		}
		resolved = append(resolved, p)
	}

	for _, p := range resolved {
		wk := windowKey{ns: ns, key: key, policy: p.Name}
		live := prune(l.windows[wk], now.Add(-p.Window))
		if len(live) == 0 {
			delete(l.windows, wk)
		} else {
			l.windows[wk] = live
		}

		total := 0
		for _, e := range live {
			total += e.weight
		}
		if total+weight > p.MaxRequests {
			retry := p.Window
			if len(live) > 0 {
				retry = live[0].at.Add(p.Window).Sub(now)
			}
			if retry <= 0 {
				retry = time.Second
			}
			return Decision{Allowed: false, RetryAfter: retry, Policy: p.Name}, nil
		}
	}

	for _, p := range resolved {
		wk := windowKey{ns: ns, key: key, policy: p.Name}
		l.windows[wk] = append(l.windows[wk], entry{at: now, weight: weight})
	}
	return Decision{Allowed: true}, nil
}

// prune drops entries at or before cutoff. Entries are appended in time order.
func prune(entries []entry, cutoff time.Time) []entry {
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	out := make([]entry, len(entries)-i)
	copy(out, entries[i:])
	return out
}

// Stats returns the number of distinct keys per namespace and the policy table.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[Namespace]map[string]struct{})
	for wk := range l.windows {
		if seen[wk.ns] == nil {
			seen[wk.ns] = make(map[string]struct{})
		}
		seen[wk.ns][wk.key] = struct{}{}
	}
	out := Stats{
		KeysByNamespace: make(map[Namespace]int, len(seen)),
		TrackedWindows:  len(l.windows),
		Policies:        l.policyList(),
	}
	for ns, keys := range seen {
		out.KeysByNamespace[ns] = len(keys)
	}
	return out
}

// Policies returns the configured table in declaration order.
func (l *Limiter) Policies() []Policy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.policyList()
}

func (l *Limiter) policyList() []Policy {
	out := make([]Policy, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.policies[name])
	}
	return out
}

// Reset clears every tracked window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[windowKey][]entry)
}
