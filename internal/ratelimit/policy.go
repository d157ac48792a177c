package ratelimit

import (
	"fmt"
	"time"
)

// Namespace partitions limiter keys so session, client and free-text windows never collide.
type Namespace string

const (
	NamespaceSession  Namespace = "session"
	NamespaceClient   Namespace = "client"
	NamespaceFreeText Namespace = "free_text"
)

// Policy names used by the HTTP boundary.
const (
	PolicySessionTurnsPerHour = "session_turns_per_hour"
	PolicySessionTurnsPerDay  = "session_turns_per_day"
	PolicyCustomInputPer10Min = "custom_input_per_10min"
	PolicyIPPerHour           = "ip_per_hour"
	PolicyIPPerDay            = "ip_per_day"
	PolicyStartPerIPPerHour   = "start_per_ip_per_hour"
)

// Policy caps the total weight recorded for one key within a trailing window.
type Policy struct {
	Name        string        `json:"name"`
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
}

func (p Policy) validate() error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.MaxRequests <= 0 {
		return fmt.Errorf("policy %s: max requests must be positive", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be positive", p.Name)
	}
	return nil
}

// DefaultPolicies returns the stock policy table.
func DefaultPolicies() []Policy {
	return []Policy{
		{Name: PolicySessionTurnsPerHour, MaxRequests: 20, Window: time.Hour},
		{Name: PolicySessionTurnsPerDay, MaxRequests: 100, Window: 24 * time.Hour},
		{Name: PolicyCustomInputPer10Min, MaxRequests: 5, Window: 10 * time.Minute},
		{Name: PolicyIPPerHour, MaxRequests: 50, Window: time.Hour},
		{Name: PolicyIPPerDay, MaxRequests: 200, Window: 24 * time.Hour},
		{Name: PolicyStartPerIPPerHour, MaxRequests: 10, Window: time.Hour},
	}
}

// MergePolicies overlays overrides onto base by name, appending unknown names.
func MergePolicies(base, overrides []Policy) []Policy {
	out := make([]Policy, len(base))
	copy(out, base)
	for _, o := range overrides {
		replaced := false
		for i := range out {
			if out[i].Name == o.Name {
				out[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, o)
		}
	}
	return out
}
