package engine

import (
	"context"
	"time"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/models"
)

// Sweep finalises pending sessions older than delay. Completed bait sessions
// nobody observed become mitm; decoy sessions become credentials_reuse,
// probe or bruteforce. Sessions already classified are never touched.
func (e *Engine) Sweep(ctx context.Context, delay time.Duration) error {
	start := time.Now()
	defer func() { e.metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	cutoff := e.now().Add(-delay)

	baitIDs, err := db.ListStaleBaitSessions(e.db, cutoff)
	if err != nil {
		return storeError("list stale bait sessions", err)
	}
	for _, id := range baitIDs {
		if err := e.finalize(ctx, id, models.ClassMITM); err != nil {
			return err
		}
	}

	decoys, err := db.ListStaleDecoySessions(e.db, cutoff)
	if err != nil {
		return storeError("list stale decoy sessions", err)
	}
	for i := range decoys {
		classification, err := e.classifyDecoy(&decoys[i])
		if err != nil {
			return err
		}
		if err := e.finalize(ctx, decoys[i].ID, classification); err != nil {
			return err
		}
	}
	return nil
}

// classifyDecoy decides the verdict for an uncorrelated decoy session.
func (e *Engine) classifyDecoy(s *models.Session) (string, error) {
	for _, a := range s.Authentication {
		used, err := db.BaitCredentialUsed(e.db, a.Username, a.Password)
		if err != nil {
			return "", storeError("check bait credentials", err)
		}
		if used {
			return models.ClassCredentialsReuse, nil
		}
	}
	if len(s.Authentication) == 0 {
		return models.ClassProbe, nil
	}
	return models.ClassBruteforce, nil
}

func (e *Engine) finalize(ctx context.Context, id, classification string) error {
	ok, err := db.SetClassification(e.db, id, classification)
	if err != nil {
		return storeError("classify session", err)
	}
	if !ok {
		return nil
	}

	s, err := db.GetSession(e.db, id)
	if err != nil {
		return storeError("reload session", err)
	}
	e.metrics.Classified.WithLabelValues(classification).Inc()
	e.logger.Info("session classified", logging.SessionID(id), logging.Classification(classification))
	if s != nil {
		e.feed.PublishSession(ctx, s)
	}
	return nil
}
