package health

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/c360/streamrt/buffer"
	"github.com/c360/streamrt/scheduler"
)

// Status levels
const (
	LevelHealthy   = "healthy"
	LevelDegraded  = "degraded"
	LevelUnhealthy = "unhealthy"
)

// DegradedOccupancy is the buffer fill ratio above which an edge reports
// degraded: its consumer is not keeping up.
const DegradedOccupancy = 0.95

var (
	httpURLRegex     = regexp.MustCompile(`https?://[^\s]+`)
	natsURLRegex     = regexp.MustCompile(`nats://[^\s]+`)
	wsURLRegex       = regexp.MustCompile(`wss?://[^\s]+`)
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health of one part of the system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the counters attached to a Status.
type Metrics struct {
	ErrorCount    int     `json:"error_count"`
	ItemsProduced uint64  `json:"items_produced,omitempty"`
	ItemsConsumed uint64  `json:"items_consumed,omitempty"`
	Occupancy     float64 `json:"occupancy,omitempty"`
}

// IsHealthy reports the healthy level.
func (s Status) IsHealthy() bool { return s.Status == LevelHealthy }

// IsDegraded reports the degraded level.
func (s Status) IsDegraded() bool { return s.Status == LevelDegraded }

// IsUnhealthy reports the unhealthy level.
func (s Status) IsUnhealthy() bool { return s.Status == LevelUnhealthy }

// WithMetrics returns a copy of s carrying m.
func (s Status) WithMetrics(m *Metrics) Status {
	s.Metrics = m
	return s
}

// WithSubStatus returns a copy of s with sub appended.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// sanitizeErrorMessage strips URLs, paths, IP addresses, ports and
// credentials from an error text.
func sanitizeErrorMessage(err string) string {
	if err == "" {
		return ""
	}
	s := httpURLRegex.ReplaceAllString(err, "[URL]")
	s = natsURLRegex.ReplaceAllString(s, "[URL]")
	s = wsURLRegex.ReplaceAllString(s, "[URL]")
	s = unixPathRegex.ReplaceAllString(s, "[PATH]")
	s = windowsPathRegex.ReplaceAllString(s, "[PATH]")
	s = ipAddrRegex.ReplaceAllString(s, "[IP]")
	s = portRegex.ReplaceAllString(s, "[PORT]")

	lower := strings.ToLower(s)
	for _, word := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, word) {
			return credentialRegex.ReplaceAllString(s, "[REDACTED]")
		}
	}
	return s
}

// FromError reports component unhealthy with the sanitized error text, or
// healthy when err is nil.
func FromError(component string, err error) Status {
	if err == nil {
		return NewHealthy(component, "ok")
	}
	return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
}

// FromScheduler derives a scheduler's health from its stats and the error its
// Run returned (nil while running). Block failures that did not stop the
// scheduler make it degraded.
func FromScheduler(stats scheduler.Stats, runErr error) Status {
	name := "scheduler." + stats.Name
	var st Status
	switch {
	case runErr != nil:
		st = NewUnhealthy(name, sanitizeErrorMessage(runErr.Error()))
	case stats.Errors > 0:
		st = NewDegraded(name, fmt.Sprintf("%d block failures", stats.Errors))
	default:
		st = NewHealthy(name, stats.State)
	}

	m := &Metrics{ErrorCount: stats.Errors}
	for _, b := range stats.Blocks {
		m.ItemsProduced += b.Produced
		m.ItemsConsumed += b.Consumed
	}
	return st.WithMetrics(m)
}

// FromBuffer derives an edge's health from its stats. A closed buffer that
// was not done lost its stream; a nearly full one is degraded.
func FromBuffer(stats buffer.Stats) Status {
	name := "buffer." + stats.Name
	var st Status
	switch {
	case stats.Closed && !stats.Done:
		st = NewUnhealthy(name, "closed before end of stream")
	case stats.Occupancy >= DegradedOccupancy && !stats.Done:
		st = NewDegraded(name, fmt.Sprintf("occupancy %.0f%%", stats.Occupancy*100))
	default:
		st = NewHealthy(name, fmt.Sprintf("%d items written", stats.ItemsWritten))
	}
	return st.WithMetrics(&Metrics{
		ItemsProduced: stats.ItemsWritten,
		ItemsConsumed: stats.SlowestRead,
		Occupancy:     stats.Occupancy,
	})
}
