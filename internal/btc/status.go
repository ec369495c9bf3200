package btc

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// NodeStatus is the latest snapshot of the local Bitcoin backend. Height and
// feerate are cached between polls; Feerate is nil until the first successful
// estimate and after a failed one.
type NodeStatus struct {
	Network   string    `json:"network"`
	Height    uint64    `json:"height"`
	Feerate   *uint64   `json:"feerate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockCountSource yields the backend's current block count.
type BlockCountSource interface {
	GetBlockCount() (uint64, error)
}

// StatusPoller periodically refreshes a NodeStatus snapshot from the backend
// so status reads never block on RPC round trips.
type StatusPoller struct {
	source   BlockCountSource
	fetcher  FeeRateFetcher
	network  string
	interval time.Duration

	mu     sync.RWMutex
	status NodeStatus
}

func NewStatusPoller(source BlockCountSource, fetcher FeeRateFetcher, network string, interval time.Duration) *StatusPoller {
	return &StatusPoller{
		source:   source,
		fetcher:  fetcher,
		network:  network,
		interval: interval,
		status:   NodeStatus{Network: network},
	}
}

// Status returns the last polled snapshot.
func (p *StatusPoller) Status() NodeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.status
}

// Start polls the backend until the context is cancelled.
func (p *StatusPoller) Start(ctx context.Context) {
	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Status poller stopping...")
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *StatusPoller) poll() {
	status := NodeStatus{Network: p.network, UpdatedAt: time.Now()}

	height, err := p.source.GetBlockCount()
	if err != nil {
		log.Warnf("Failed to poll block count: %v", err)
		status.Height = p.Status().Height
	} else {
		status.Height = height
	}

	feerate, err := p.fetcher.GetFeeRateSatsPerKVB()
	if err != nil {
		log.Debugf("Failed to poll feerate: %v", err)
	} else {
		status.Feerate = &feerate
	}

	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}
