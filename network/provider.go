package network

import (
	"context"
	"log/slog"
	"time"

	gerrors "campusgallery/errors"
)

const (
	PollInterval = 100 * time.Millisecond

	// HomeMaxWait bounds provider polling for the main entry point,
	// PageMaxWait for secondary ones.
	HomeMaxWait = 10 * time.Second
	PageMaxWait = 5 * time.Second
)

// Source reports whether a wallet provider is reachable.
type Source interface {
	Available(ctx context.Context) bool
}

// notifier is implemented by sources that can announce availability. The
// returned channel is closed or receives once the provider becomes ready.
type notifier interface {
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// Watcher waits for a provider to appear.
type Watcher struct {
	source   Source
	interval time.Duration
	maxWait  time.Duration
	logger   *slog.Logger
}

func NewWatcher(source Source, maxWait time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source:   source,
		interval: PollInterval,
		maxWait:  maxWait,
		logger:   logger,
	}
}

// Wait returns nil once the provider is available. Sources implementing
// Subscribe are waited on until ctx ends; all others are polled every
// PollInterval until maxWait elapses, after which ErrProviderAbsent is returned.
func (w *Watcher) Wait(ctx context.Context) error {
	if w.source.Available(ctx) {
		return nil
	}

	if n, ok := w.source.(notifier); ok {
		ready, err := n.Subscribe(ctx)
		if err == nil {
			select {
			case <-ready:
				w.logger.Info("provider announced")
				return nil
			case <-ctx.Done():
				return gerrors.WrapError("detect provider", gerrors.ErrProviderAbsent, ctx.Err())
			}
		}
		w.logger.Warn("provider subscription unavailable, polling", "error", err)
	}

	return w.poll(ctx)
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(w.maxWait)
	defer deadline.Stop()

	attempts := 1
	for {
		select {
		case <-ticker.C:
			attempts++
			if w.source.Available(ctx) {
				w.logger.Info("provider detected", "attempts", attempts)
				return nil
			}
		case <-deadline.C:
			w.logger.Warn("provider not detected", "attempts", attempts, "maxWait", w.maxWait)
			return gerrors.WrapError("detect provider", gerrors.ErrProviderAbsent, nil)
		case <-ctx.Done():
			return gerrors.WrapError("detect provider", gerrors.ErrProviderAbsent, ctx.Err())
		}
	}
}

// RPCProvider is a Source backed by a JSON-RPC endpoint.
type RPCProvider struct {
	URL string
}

func (p RPCProvider) Available(ctx context.Context) bool {
	_, err := CheckNode(ctx, p.URL)
	return err == nil
}
