package call

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/metrics"
)

// Classifier produces a disposition and summary from a finished transcript.
type Classifier interface {
	ClassifyCall(ctx context.Context, transcript []DialogTurn) (Disposition, string, error)
}

// Recorder persists a finalized session. Implementations retry locally;
// the finalizer treats a returned error as logged-and-lost.
type Recorder interface {
	RecordCallResult(ctx context.Context, sess *Session) error
}

// Finalizer classifies and persists a terminated session. It runs exactly
// once per session and never propagates an error: a failed classification
// falls back to an unknown disposition, a failed write is logged, and the
// session is evicted either way.
type Finalizer struct {
	classifier Classifier
	recorder   Recorder
	timeout    time.Duration
}

func NewFinalizer(classifier Classifier, recorder Recorder, timeout time.Duration) *Finalizer {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Finalizer{classifier: classifier, recorder: recorder, timeout: timeout}
}

// Finalize runs on its own context: the session's context is already
// cancelled by the time a terminal transition lands here.
func (f *Finalizer) Finalize(sess *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	transcript := sess.Transcript()
	status := sess.Status()

	if len(transcript) == 0 {
		sess.setOutcome(DispositionUnknown,
			fmt.Sprintf("call ended with status %s before any conversation", status))
	} else {
		disposition, summary, err := f.classifier.ClassifyCall(ctx, transcript)
		if err != nil {
			logger.Log.Warn("call classification failed, defaulting disposition",
				zap.String("call_id", sess.ID),
				zap.Error(err),
			)
			disposition = DispositionUnknown
			summary = fmt.Sprintf("classification unavailable; call ended with status %s after %d turns",
				status, len(transcript))
		}
		sess.setOutcome(disposition, summary)
	}

	if err := f.recorder.RecordCallResult(ctx, sess); err != nil {
		// Data loss is acceptable only here, and must be loud enough for
		// operational recovery from logs.
		logger.Log.Error("failed to persist call result",
			zap.String("call_id", sess.ID),
			zap.String("status", status.String()),
			zap.String("disposition", string(sess.Disposition())),
			zap.String("summary", sess.Summary()),
			zap.Error(err),
		)
	}

	metrics.CallFinalized(status.String())
	logger.Log.Info("call finalized",
		zap.String("call_id", sess.ID),
		zap.String("status", status.String()),
		zap.String("disposition", string(sess.Disposition())),
		zap.Duration("duration", sess.Duration()),
		zap.Int("transcript_turns", len(transcript)),
	)
}
