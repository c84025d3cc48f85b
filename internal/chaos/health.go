package chaos

import (
	"sync"
	"time"
)

// HostTarget is the target key used for host-level samples and host-local faults.
const HostTarget = ""

// HealthSample is an immutable snapshot of host utilisation and target health.
type HealthSample struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`

	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskPercent      float64 `json:"disk_percent"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
	DiskTotalBytes   uint64  `json:"disk_total_bytes"`
	DiskFreeBytes    uint64  `json:"disk_free_bytes"`
	LoadAverage1m    float64 `json:"load_average_1m"`
	CPUCount         int     `json:"cpu_count"`

	TargetReachable bool          `json:"target_reachable"`
	TargetStatus    string        `json:"target_status,omitempty"`
	StatusCode      int           `json:"status_code,omitempty"`
	ResponseTime    time.Duration `json:"response_time"`
	ErrorRate       float64       `json:"error_rate"`
	HostError       string        `json:"host_error,omitempty"`
}

// Degraded reports a reachable target that did not answer 2xx.
func (s HealthSample) Degraded() bool {
	return s.TargetReachable && s.StatusCode != 0 && (s.StatusCode < 200 || s.StatusCode > 299)
}

// HealthHistory is a bounded ring of samples ordered by collection time.
type HealthHistory struct {
	mu      sync.RWMutex
	samples []HealthSample
	start   int
	count   int
}

func NewHealthHistory(capacity int) *HealthHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &HealthHistory{samples: make([]HealthSample, capacity)}
}

// Append adds a sample, evicting the oldest when full.
func (h *HealthHistory) Append(s HealthSample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	capacity := len(h.samples)
	if h.count < capacity {
		h.samples[(h.start+h.count)%capacity] = s
		h.count++
		return
	}
	h.samples[h.start] = s
	h.start = (h.start + 1) % capacity
}

// Snapshot returns the samples oldest first.
func (h *HealthHistory) Snapshot() []HealthSample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HealthSample, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.samples[(h.start+i)%len(h.samples)]
	}
	return out
}

// Since returns samples collected at or after t, optionally restricted to one target.
func (h *HealthHistory) Since(t time.Time, target *string) []HealthSample {
	var out []HealthSample
	for _, s := range h.Snapshot() {
		if s.Timestamp.Before(t) {
			continue
		}
		if target != nil && s.Target != *target {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (h *HealthHistory) Latest() (HealthSample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return HealthSample{}, false
	}
	return h.samples[(h.start+h.count-1)%len(h.samples)], true
}

func (h *HealthHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *HealthHistory) Cap() int {
	return len(h.samples)
}
