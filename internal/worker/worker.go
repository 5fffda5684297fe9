// Package worker provides the background poller for pull-based row sources.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eelnxz09/anamoly-processing/internal/ingest"
)

// Sink receives validated delta batches. The scoring service implements it;
// routing deltas through the sink keeps its cached assessments coherent with
// the warehouse.
type Sink interface {
	StoreDelta(ctx context.Context, frame ingest.Frame, source string) (int, error)
}

// Poller periodically queries registered row sources for new rows beyond
// each source's watermark and hands the deltas to the sink. Sources are
// authoritative for their own row counts; the poller never pushes.
type Poller struct {
	mu      sync.Mutex
	sources map[string]*sourceState

	sink     Sink
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type sourceState struct {
	src    ingest.RowSource
	cursor ingest.Cursor
}

// NewPoller creates a poller that feeds deltas into the sink.
func NewPoller(sink Sink, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		sources:  make(map[string]*sourceState),
		sink:     sink,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register adds a named source and performs its first pull synchronously,
// returning the number of rows stored. The first pull establishes the
// source's header; later polls reuse it.
func (p *Poller) Register(ctx context.Context, name string, src ingest.RowSource) (int, error) {
	if name == "" {
		return 0, fmt.Errorf("source name is required")
	}

	p.mu.Lock()
	if _, exists := p.sources[name]; exists {
		p.mu.Unlock()
		return 0, fmt.Errorf("source %s already registered", name)
	}
	state := &sourceState{src: src}
	p.sources[name] = state
	p.mu.Unlock()

	n, err := p.pull(ctx, name, state)
	if err != nil {
		p.mu.Lock()
		delete(p.sources, name)
		p.mu.Unlock()
		return 0, err
	}

	slog.Info("source registered",
		"source", name,
		"rows", n,
		"watermark", state.cursor.Watermark,
	)
	return n, nil
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.PollNow(p.ctx)
			}
		}
	}()

	slog.Info("source poller started", "interval", p.interval)
}

// PollNow pulls deltas from every registered source once.
func (p *Poller) PollNow(ctx context.Context) {
	p.mu.Lock()
	names := make([]string, 0, len(p.sources))
	states := make([]*sourceState, 0, len(p.sources))
	for name, state := range p.sources {
		names = append(names, name)
		states = append(states, state)
	}
	p.mu.Unlock()

	for i, state := range states {
		if _, err := p.pull(ctx, names[i], state); err != nil {
			slog.Warn("source poll failed",
				"source", names[i],
				"error", err,
			)
		}
	}
}

// pull fetches one source's delta and stores it through the sink. The cursor
// only advances after a successful store, so a failed batch is retried on
// the next poll.
func (p *Poller) pull(ctx context.Context, name string, state *sourceState) (int, error) {
	p.mu.Lock()
	cursor := state.cursor
	p.mu.Unlock()

	frame, next, err := ingest.FetchIncremental(ctx, state.src, cursor)
	if err != nil {
		return 0, err
	}
	if frame.NumRows() == 0 {
		return 0, nil
	}

	n, err := p.sink.StoreDelta(ctx, frame, "sheet:"+name)
	if err != nil {
		return 0, fmt.Errorf("failed to store delta: %w", err)
	}

	p.mu.Lock()
	state.cursor = next
	p.mu.Unlock()

	slog.Info("source delta stored",
		"source", name,
		"rows", n,
		"watermark", next.Watermark,
	)
	return n, nil
}

// Cursors returns the current watermark per registered source.
func (p *Poller) Cursors() map[string]ingest.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]ingest.Cursor, len(p.sources))
	for name, state := range p.sources {
		out[name] = state.cursor
	}
	return out
}

// Stop gracefully stops the polling loop.
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
	slog.Info("source poller stopped")
}
