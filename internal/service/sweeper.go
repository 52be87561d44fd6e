package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

// Sweeper periodically removes expired actions from the store so the pending
// list and memory footprint stay bounded.
type Sweeper struct {
	store    *usecase.ActionStore
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper with the given interval (default 5 minutes).
func NewSweeper(store *usecase.ActionStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		store:    store,
		interval: interval,
	}
}

// Start begins the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stopCh)
	fmt.Printf("[Sweeper] Started with interval %v\n", s.interval)
}

// Stop halts the sweep loop and waits for it to exit. Safe when not running.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
	fmt.Println("[Sweeper] Stopped")
}

func (s *Sweeper) loop(stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := s.store.Sweep(); n > 0 {
				fmt.Printf("[Sweeper] Removed %d expired actions\n", n)
			}
		case <-stopCh:
			return
		}
	}
}
