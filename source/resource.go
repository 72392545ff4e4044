package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hotherio/cancelable-go/internal/obslog"
)

// ResourceThresholds configures NewResourcePredicate. A zero threshold
// disables that particular check.
type ResourceThresholds struct {
	MemoryPercent float64
	CPUPercent    float64
	DiskPercent   float64
	DiskPath      string // defaults to "/" if DiskPercent is set and this is empty
}

// NewResourcePredicate builds a Predicate that fires when any configured
// resource threshold is exceeded, polling process/host metrics via
// gopsutil - the real Go analogue of the psutil dependency named in
// original_source's examples/02_advanced/09_resource_monitoring.py and
// hother/cancelable/sources/condition.ResourceConditionSource.
//
// If a metrics probe fails (e.g. unsupported platform, missing
// permissions), the predicate logs a warning once (via the logger passed
// through opts, e.g. WithLogger) and treats that metric as not exceeded,
// rather than erroring the whole condition. The probe is still attempted
// on every tick; only the warning is limited to the first failure.
func NewResourcePredicate(thresholds ResourceThresholds, interval time.Duration, opts ...Option) (*Predicate, error) {
	diskPath := thresholds.DiskPath
	if diskPath == "" {
		diskPath = "/"
	}

	cfg := newConfig(opts)
	degraded := &degradeOnce{logger: cfg.logger}
	condition := func(ctx context.Context) (bool, error) {
		if thresholds.MemoryPercent > 0 {
			if v, err := mem.VirtualMemoryWithContext(ctx); err != nil {
				degraded.warn("memory", err)
			} else if v.UsedPercent >= thresholds.MemoryPercent {
				return true, nil
			}
		}
		if thresholds.CPUPercent > 0 {
			// interval=0 reports usage since the last call, avoiding a
			// second blocking sleep inside our own poll loop.
			if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
				degraded.warn("cpu", err)
			} else if len(pct) > 0 && pct[0] >= thresholds.CPUPercent {
				return true, nil
			}
		}
		if thresholds.DiskPercent > 0 {
			if u, err := disk.UsageWithContext(ctx, diskPath); err != nil {
				degraded.warn("disk", err)
			} else if u.UsedPercent >= thresholds.DiskPercent {
				return true, nil
			}
		}
		return false, nil
	}

	name := fmt.Sprintf("resource(mem>=%.0f%%,cpu>=%.0f%%,disk>=%.0f%%)",
		thresholds.MemoryPercent, thresholds.CPUPercent, thresholds.DiskPercent)
	return NewPredicate(condition, interval, name, opts...)
}

type degradeOnce struct {
	logger obslog.Logger

	mu   sync.Mutex
	seen map[string]bool
}

// warn logs metric's probe failure the first time only; later failures of
// the same metric are silent.
func (d *degradeOnce) warn(metric string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[metric] {
		return
	}
	d.seen[metric] = true
	d.logger.Warn("resource probe failed, degrading to always-false",
		obslog.F("metric", metric),
		obslog.F("error", err.Error()),
	)
}
