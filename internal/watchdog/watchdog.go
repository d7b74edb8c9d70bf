// Package watchdog tracks heartbeats from the subsystem's background jobs.
package watchdog

import (
	"context"
	"sort"
	"sync"
	"time"

	"kcl-antivirus/internal/logging"
)

type Watchdog struct {
	mu            sync.RWMutex
	components    map[string]*ComponentHealth
	checkInterval time.Duration
	now           func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type ComponentHealth struct {
	Name          string
	Registered    time.Time
	LastHeartbeat time.Time
	Healthy       bool
	// Threshold is the silence after which the component is unhealthy
	Threshold time.Duration
}

func NewWatchdog(checkInterval time.Duration) *Watchdog {
	return &Watchdog{
		components:    make(map[string]*ComponentHealth),
		checkInterval: checkInterval,
		now:           time.Now,
	}
}

// WithClock replaces the time source, for tests
func (w *Watchdog) WithClock(now func() time.Time) *Watchdog {
	w.now = now
	return w
}

// RegisterComponent watches a job that runs every interval; it turns unhealthy
// after twice that much silence.
func (w *Watchdog) RegisterComponent(name string, interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.components[name] = &ComponentHealth{
		Name:       name,
		Registered: w.now(),
		Healthy:    true,
		Threshold:  2 * interval,
	}
}

func (w *Watchdog) Heartbeat(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if comp, exists := w.components[name]; exists {
		if !comp.Healthy {
			logging.Info("[WATCHDOG] %s recovered", name)
		}
		comp.LastHeartbeat = w.now()
		comp.Healthy = true
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	if w.checkInterval <= 0 {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.monitorLoop(ctx)
}

func (w *Watchdog) monitorLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Check marks silent components unhealthy and returns their names
func (w *Watchdog) Check() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	var unhealthy []string

	for name, comp := range w.components {
		last := comp.LastHeartbeat
		if last.IsZero() {
			last = comp.Registered
		}

		elapsed := now.Sub(last)
		if elapsed > comp.Threshold {
			if comp.Healthy {
				logging.Error("[WATCHDOG] %s unhealthy (no heartbeat for %v)", name, elapsed.Round(time.Second))
			}
			comp.Healthy = false
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)
	return unhealthy
}

func (w *Watchdog) IsHealthy(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if comp, exists := w.components[name]; exists {
		return comp.Healthy
	}
	return false
}

func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watchdog) GetStatus() map[string]ComponentHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()

	status := make(map[string]ComponentHealth, len(w.components))
	for name, comp := range w.components {
		status[name] = *comp
	}
	return status
}
