package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mrsingh-rishi/voice-relay/metrics"
	"github.com/mrsingh-rishi/voice-relay/model"
	"github.com/mrsingh-rishi/voice-relay/stt"
)

const minCommitInterval = time.Millisecond

// CommitWorker periodically asks upstream to finalize buffered audio so that
// partial transcripts keep flowing while the client speaks.
type CommitWorker struct {
	link        Committer
	state       *model.State
	interval    time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewCommitWorker(
	link Committer,
	state *model.State,
	interval time.Duration,
	idleTimeout time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*CommitWorker, error) {
	if link == nil {
		return nil, fmt.Errorf("committer is required")
	}
	if state == nil {
		return nil, fmt.Errorf("session state is required")
	}
	if idleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive")
	}
	if interval < minCommitInterval {
		interval = minCommitInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommitWorker{
		link:        link,
		state:       state,
		interval:    interval,
		idleTimeout: idleTimeout,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}, nil
}

// Run ticks until ctx is cancelled, which returns nil, or a commit fails
// fatally, which returns that error.
func (w *CommitWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Tick runs one scheduling decision. Only fatal commit failures are returned.
func (w *CommitWorker) Tick(ctx context.Context) error {
	hasAudio, lastAudio := w.state.Audio()
	if !hasAudio {
		return nil
	}
	if w.now().Sub(lastAudio) > w.idleTimeout {
		w.state.ResetAudio()
		w.record("idle")
		w.logger.Debug("No audio within idle timeout, resetting audio flag")
		return nil
	}

	err := w.link.Commit(ctx)
	if err == nil {
		w.state.ResetAudioIfUnchanged(lastAudio)
		w.record("ok")
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}

	class := stt.ClassifyCommitError(err)
	w.record(class.String())
	switch class {
	case stt.CommitBufferEmpty:
		w.state.ResetAudio()
		w.logger.Debug("Commit skipped, upstream buffer empty", slog.String("error", err.Error()))
		return nil
	case stt.CommitTransient:
		w.logger.Debug("Commit skipped, not enough audio yet", slog.String("error", err.Error()))
		return nil
	default:
		w.logger.Error("Commit failed", slog.String("error", err.Error()))
		return fmt.Errorf("commit: %w", err)
	}
}

func (w *CommitWorker) record(result string) {
	if w.metrics != nil {
		w.metrics.Commits.WithLabelValues(result).Inc()
	}
}
