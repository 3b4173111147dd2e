package cluster

import (
	"context"
	"errors"
	"sync"
	"time"
)

// refresher holds the background refresh loop of a Manager.
type refresher struct {
	cancel context.CancelFunc
	run    uint64 // incremented by every StartRefresher
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// StartRefresher re-reads /models from every node once immediately and then
// every interval, keeping the model registry and health records current
// without waiting for traffic. The loop runs in its own goroutine until ctx is
// canceled or Stop is called; either way a new loop may be started afterwards.
//
// Parameters:
//   - ctx: Parent context; canceling it also ends the loop
//   - interval: Time between refresh rounds, must be positive
//
// Example:
//
//	if err := m.StartRefresher(ctx, 30*time.Second); err != nil {
//	    return err
//	}
//	defer m.Stop()
func (m *Manager) StartRefresher(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return configErrorf("refresh interval must be positive, got %v", interval)
	}

	r := &m.refresher
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return errors.New("refresher already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.run++
	run := r.run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		m.refreshLoop(loopCtx, interval)
		cancel()

		// The parent context ended the loop: release the slot unless Stop
		// or a newer run already owns it.
		r.mu.Lock()
		if r.run == run && r.cancel != nil {
			r.cancel = nil
		}
		r.mu.Unlock()
	}()
	return nil
}

// Stop ends the refresh loop and waits for an in-progress round to finish.
// It is a no-op when no refresher is running.
func (m *Manager) Stop() {
	r := &m.refresher
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	m.logger.Info("model refresher stopped")
}

func (m *Manager) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("model refresher started", "interval", interval, "nodes", len(m.nodes))
	m.refreshOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.refreshOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context) {
	if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
		m.logger.Warn("model refresh failed on every node", "error", err)
	}
}
