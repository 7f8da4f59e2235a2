package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pinpoint/api/schemas"
)

// LogSink writes a one-line summary of every result, plus its near matches at debug level.
type LogSink struct {
	log *zap.Logger
}

var _ schemas.DiagnosticsSink = (*LogSink)(nil)

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{log: logger.Named("diagnostics")}
}

func (s *LogSink) Record(_ context.Context, r *schemas.Result) error {
	fields := []zap.Field{
		zap.String("id", r.ID),
		zap.String("target", r.Target.String()),
		zap.String("page_url", r.PageURL),
		zap.Bool("success", r.Success),
		zap.Strings("strategies_tried", strategyNames(r.Diagnostics.StrategiesTried)),
		zap.Int("near_matches", len(r.Diagnostics.NearMatches)),
		zap.Int("excluded", len(r.Diagnostics.Excluded)),
		zap.Duration("duration", r.Duration),
	}
	if r.Failure != schemas.FailureNone {
		fields = append(fields, zap.String("failure", string(r.Failure)))
	}
	if r.Match != nil {
		fields = append(fields,
			zap.String("strategy", string(r.StrategyUsed)),
			zap.Int("confidence", r.Match.Confidence),
			zap.String("signal", string(r.Match.MatchedSignal.Signal.Source)))
	}
	s.log.Info("Resolution recorded.", fields...)

	for _, m := range r.Diagnostics.NearMatches {
		s.log.Debug("Near match.",
			zap.String("id", r.ID),
			zap.String("strategy", string(m.Strategy)),
			zap.String("tag", m.Element.Tag),
			zap.String("text", m.Element.Text),
			zap.Int("confidence", m.Confidence),
			zap.String("reason", m.Reason))
	}
	return nil
}

func strategyNames(kinds []schemas.StrategyKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
