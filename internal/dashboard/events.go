package dashboard

import (
	"context"
	"log"
	"time"

	"github.com/ridgeline-systems/perpctl/internal/ledger"
)

// Publisher polls the risk ledger and pushes a status snapshot to every
// connected dashboard client on a fixed interval. Replaces the teacher's
// Postgres LISTEN/NOTIFY event bridge: this control plane has no trigger
// machinery on its ledger_state table, and polling a single-row snapshot
// is cheap enough that a push bus isn't worth the extra moving part.
type Publisher struct {
	ledger      *ledger.Ledger
	broadcaster *Broadcaster
	interval    time.Duration
	logger      *log.Logger
	shutdown    chan struct{}
}

// NewPublisher creates a Publisher over l, pushing through broadcaster
// every interval.
func NewPublisher(l *ledger.Ledger, broadcaster *Broadcaster, interval time.Duration, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.New(log.Writer(), "[dashboard-publisher] ", log.LstdFlags)
	}
	return &Publisher{
		ledger:      l,
		broadcaster: broadcaster,
		interval:    interval,
		logger:      logger,
		shutdown:    make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (p *Publisher) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop halts the polling loop.
func (p *Publisher) Stop() {
	close(p.shutdown)
}

func (p *Publisher) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	snapshot, err := BuildSnapshot(ctx, p.ledger)
	if err != nil {
		p.logger.Printf("dashboard-publisher: %v", err)
		return
	}
	p.broadcaster.Broadcast(WebSocketMessage{
		Type:      "status_snapshot",
		Data:      snapshot,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
