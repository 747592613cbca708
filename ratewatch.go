package streamreplay

//
// Console rate reporter: an ambient addition (not named by spec.md) that
// periodically prints aggregate throughput alongside host load, and
// drives a progress bar for the run's wall-clock duration. Ticker/sample
// shape grounded on n-backup's SystemMonitor (monitor.go); CPU/memory
// sampling via shirou/gopsutil, output gating via golang.org/x/time/rate's
// Sometimes, progress display via schollz/progressbar. See SPEC_FULL.md §0.
//

import (
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"
)

// HostSample is one point-in-time host resource reading.
type HostSample struct {
	CPUPercent    float64
	MemoryPercent float64
}

// ConsoleReporter samples host load on a fixed tick and logs an
// aggregate throughput line no more often than every logInterval, using
// a rate.Sometimes gate so a burst of ticks (e.g. after a stall) cannot
// flood the console.
type ConsoleReporter struct {
	logger   Logger
	streams  map[string]StreamHandle
	sometime rate.Sometimes
	bar      *progressbar.ProgressBar

	mu     sync.Mutex
	latest HostSample

	close chan struct{}
	wg    sync.WaitGroup
}

// NewConsoleReporter constructs a reporter over streams (the same
// registry the IPC daemon drives), printing no more than once per
// logInterval and driving a progress bar sized to runDuration.
func NewConsoleReporter(streams map[string]StreamHandle, logInterval, runDuration time.Duration, logger Logger) *ConsoleReporter {
	return &ConsoleReporter{
		logger:   logger,
		streams:  streams,
		sometime: rate.Sometimes{Interval: logInterval},
		bar:      progressbar.Default(int64(runDuration.Seconds())),
		close:    make(chan struct{}),
	}
}

// Start begins the sampling goroutine.
func (cr *ConsoleReporter) Start() {
	cr.wg.Add(1)
	go cr.run()
}

func (cr *ConsoleReporter) run() {
	defer cr.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-cr.close:
			return
		case <-ticker.C:
			cr.bar.Add(1)
			cr.sample()
		}
	}
}

func (cr *ConsoleReporter) sample() {
	sample := HostSample{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		sample.CPUPercent = pct[0]
	} else if err != nil {
		cr.logger.Debugf("streamreplay: console reporter: cpu.Percent: %s", err.Error())
	}
	if v, err := mem.VirtualMemory(); err == nil {
		sample.MemoryPercent = v.UsedPercent
	} else {
		cr.logger.Debugf("streamreplay: console reporter: mem.VirtualMemory: %s", err.Error())
	}

	cr.mu.Lock()
	cr.latest = sample
	cr.mu.Unlock()

	cr.sometime.Do(func() {
		var total float64
		for _, s := range cr.streams {
			total += s.Statistics().Throughput
		}
		cr.logger.Infof("streamreplay: %.2f Mbps aggregate, host cpu=%.1f%% mem=%.1f%%",
			total, sample.CPUPercent, sample.MemoryPercent)
	})
}

// Latest returns the most recently sampled host reading.
func (cr *ConsoleReporter) Latest() HostSample {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	return cr.latest
}

// Close stops the sampling goroutine and finalizes the progress bar.
func (cr *ConsoleReporter) Close() error {
	close(cr.close)
	cr.wg.Wait()
	return cr.bar.Close()
}
