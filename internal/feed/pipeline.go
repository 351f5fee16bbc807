package feed

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/models"
)

// Pipeline delivers notifications to every registered sink in registration
// order. Sink failures are logged and never stop delivery to the others.
type Pipeline struct {
	sinks    []Sink
	sessions []SessionHook
	merges   []MergeHook
	logger   *zap.Logger
}

// NewPipeline creates an empty Pipeline.
func NewPipeline(logger *zap.Logger) *Pipeline {
	return &Pipeline{
		logger:   logger,
		sinks:    make([]Sink, 0),
		sessions: make([]SessionHook, 0),
		merges:   make([]MergeHook, 0),
	}
}

// Register detects which hook interfaces a sink implements and adds it to
// the matching lists.
func (p *Pipeline) Register(sink Sink) {
	p.sinks = append(p.sinks, sink)
	if hook, ok := sink.(SessionHook); ok {
		p.sessions = append(p.sessions, hook)
	}
	if hook, ok := sink.(MergeHook); ok {
		p.merges = append(p.merges, hook)
	}
}

// ListSinks returns metadata about all registered sinks.
func (p *Pipeline) ListSinks() []SinkInfo {
	infos := make([]SinkInfo, 0, len(p.sinks))
	for _, sink := range p.sinks {
		_, sessions := sink.(SessionHook)
		_, merges := sink.(MergeHook)
		infos = append(infos, SinkInfo{ID: sink.ID(), Sessions: sessions, Merges: merges})
	}
	return infos
}

// PublishSession announces a classified session.
func (p *Pipeline) PublishSession(ctx context.Context, s *models.Session) {
	for _, hook := range p.sessions {
		if err := hook.OnSessionClassified(ctx, s); err != nil {
			p.logger.Warn("session sink error",
				zap.String("sink", sinkID(hook)),
				logging.SessionID(s.ID),
				zap.Error(err))
		}
	}
}

// PublishMerge announces that decoyID was merged into baitID.
func (p *Pipeline) PublishMerge(ctx context.Context, decoyID, baitID string) {
	for _, hook := range p.merges {
		if err := hook.OnSessionsMerged(ctx, decoyID, baitID); err != nil {
			p.logger.Warn("merge sink error",
				zap.String("sink", sinkID(hook)),
				logging.SessionID(baitID),
				zap.Error(err))
		}
	}
}

// Close closes every sink that holds resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, sink := range p.sinks {
		if c, ok := sink.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func sinkID(hook any) string {
	if s, ok := hook.(Sink); ok {
		return s.ID()
	}
	return "unknown"
}
