// Package monitor measures wall-clock duration and samples resource
// usage of the current process around an opaque call, without
// materially altering its timing.
package monitor

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

var (
	ErrNotStarted     = errors.New("monitor: not started")
	ErrAlreadyStarted = errors.New("monitor: already started")
)

const DefaultInterval = 100 * time.Millisecond

// Usage is the aggregated measurement for one monitored call. When
// Degraded is true the host could not expose process metrics; the
// duration is still reliable, the resource fields are not.
type Usage struct {
	Duration           time.Duration
	PeakMemoryBytes    uint64
	AverageMemoryBytes uint64
	PeakCPUPercent     float64
	AverageCPUPercent  float64
	Samples            int
	Degraded           bool
}

type sample struct {
	rss uint64
	cpu float64
}

// Monitor samples the owning process at a fixed interval between Start
// and Stop. Safe for use from a single worker goroutine; the sampler
// itself runs in the background.
type Monitor struct {
	interval time.Duration

	mu       sync.Mutex
	started  bool
	startAt  time.Time
	proc     *process.Process
	samples  []sample
	degraded bool
	stop     chan struct{}
	done     chan struct{}
}

// New returns a monitor sampling at the given interval, or
// DefaultInterval if interval is not positive.
func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{interval: interval}
}

// Start begins background sampling. Starting an already-running monitor
// is an error rather than a silent reset.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		// Metrics unavailable on this host. Duration tracking still works.
		m.degraded = true
	} else {
		m.proc = proc
		// Prime the CPU counter so later readings are interval-relative.
		proc.Percent(0)
	}

	m.started = true
	m.startAt = time.Now()
	m.samples = nil
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop()
	return nil
}

func (m *Monitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.capture()
		}
	}
}

func (m *Monitor) capture() {
	m.mu.Lock()
	proc := m.proc
	m.mu.Unlock()
	if proc == nil {
		return
	}

	mem, memErr := proc.MemoryInfo()
	cpu, cpuErr := proc.Percent(0)
	if memErr != nil || cpuErr != nil || mem == nil {
		m.mu.Lock()
		m.degraded = true
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample{rss: mem.RSS, cpu: cpu})
	m.mu.Unlock()
}

// Stop halts sampling and returns the aggregated usage. Stopping a
// monitor that was never started fails rather than fabricating data.
// Stop always releases the sampler, including when the monitored call
// returned an error.
func (m *Monitor) Stop() (Usage, error) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return Usage{}, ErrNotStarted
	}
	m.started = false
	stop := m.stop
	done := m.done
	m.mu.Unlock()

	close(stop)
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()

	u := Usage{
		Duration: time.Since(m.startAt),
		Samples:  len(m.samples),
		Degraded: m.degraded,
	}
	if u.Duration < 0 {
		u.Duration = 0
	}
	if len(m.samples) == 0 {
		// No interval elapsed or metrics never arrived. Only the
		// duration is meaningful.
		u.Degraded = true
		return u, nil
	}

	var memSum uint64
	var cpuSum float64
	for _, s := range m.samples {
		memSum += s.rss
		cpuSum += s.cpu
		if s.rss > u.PeakMemoryBytes {
			u.PeakMemoryBytes = s.rss
		}
		if s.cpu > u.PeakCPUPercent {
			u.PeakCPUPercent = s.cpu
		}
	}
	u.AverageMemoryBytes = memSum / uint64(len(m.samples))
	u.AverageCPUPercent = cpuSum / float64(len(m.samples))
	return u, nil
}
