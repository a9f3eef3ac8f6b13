// Package device implements the serial device manager: a hotplug
// observer, a four-task session per connected Smart Device, and the RPC
// surface the rest of the runtime uses to list, ping, and subscribe to
// devices.
package device

import (
	"context"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Observer yields newly connected serial port paths as they appear.
// PollingObserver is the only implementation; there is no udev-backed
// hotplug observer.
type Observer interface {
	// Ports blocks until ctx is cancelled, sending each newly observed
	// port path to the returned channel as it appears.
	Ports(ctx context.Context) <-chan string
}

// PollingObserver re-lists the system's serial ports on a fixed interval
// and reports any path not seen on a previous pass, the filesystem-
// polling fallback used when no OS hotplug event source is available.
type PollingObserver struct {
	Interval time.Duration
	Logger   *zap.Logger
}

// NewPollingObserver builds a PollingObserver polling every interval.
func NewPollingObserver(interval time.Duration, logger *zap.Logger) *PollingObserver {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollingObserver{Interval: interval, Logger: logger}
}

func (o *PollingObserver) Ports(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		seen := make(map[string]bool)
		ticker := time.NewTicker(o.Interval)
		defer ticker.Stop()
		for {
			ports, err := serial.GetPortsList()
			if err != nil && o.Logger != nil {
				o.Logger.Warn("poll serial ports", zap.Error(err))
			}
			for _, p := range ports {
				if seen[p] {
					continue
				}
				seen[p] = true
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}
