package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/models"
)

type credential struct {
	username   string
	password   string
	successful bool
}

// FindMatch returns the pending session of the opposite origin that the probe
// correlates with, or nil. Candidates must share protocol and decoy, lie
// within the correlation window and have at least one identical
// (username, password, successful) attempt. The candidate closest in time
// wins; ties go to the smallest id.
func (e *Engine) FindMatch(probe *models.Session) (*models.Session, error) {
	window := e.opts.CorrelationWindow
	candidates, err := db.FindPendingCandidates(e.db, db.CandidateQuery{
		Origin:     probe.Origin.Opposite(),
		Protocol:   probe.Protocol,
		HoneypotID: probe.HoneypotID,
		From:       probe.Timestamp.Add(-window),
		To:         probe.Timestamp.Add(window),
		ExcludeID:  probe.ID,
	})
	if err != nil {
		return nil, storeError("find candidates", err)
	}

	creds := make(map[credential]struct{}, len(probe.Authentication))
	for _, a := range probe.Authentication {
		creds[credential{a.Username, a.Password, a.Successful}] = struct{}{}
	}

	var best *models.Session
	var bestDelta time.Duration
	for i := range candidates {
		c := &candidates[i]
		if !sharesCredential(creds, c.Authentication) {
			continue
		}
		delta := c.Timestamp.Sub(probe.Timestamp).Abs()
		if best == nil || delta < bestDelta || (delta == bestDelta && c.ID < best.ID) {
			best, bestDelta = c, delta
		}
	}
	return best, nil
}

func sharesCredential(creds map[credential]struct{}, auths []models.Authentication) bool {
	for _, a := range auths {
		if _, ok := creds[credential{a.Username, a.Password, a.Successful}]; ok {
			return true
		}
	}
	return false
}

// merge folds the decoy half of a matched pair into the bait half and
// announces the result.
func (e *Engine) merge(ctx context.Context, a, b *models.Session) error {
	decoy, bait := a, b
	if decoy.Origin == models.OriginBait {
		decoy, bait = b, a
	}

	if err := db.MergeSessions(e.db, decoy.ID, bait.ID); err != nil {
		if errors.Is(err, db.ErrNotPending) {
			e.logger.Warn("merge skipped", logging.SessionID(bait.ID), zap.Error(err))
			return nil
		}
		return storeError("merge sessions", err)
	}

	merged, err := db.GetSession(e.db, bait.ID)
	if err != nil {
		return storeError("reload merged session", err)
	}
	e.recent.Add(decoy.ID, struct{}{})

	e.metrics.Merged.Inc()
	e.metrics.Classified.WithLabelValues(models.ClassBaitSession).Inc()
	e.logger.Info("sessions merged",
		zap.String("decoy_session_id", decoy.ID),
		logging.SessionID(bait.ID),
		logging.Protocol(bait.Protocol))

	e.feed.PublishMerge(ctx, decoy.ID, bait.ID)
	if merged != nil {
		e.feed.PublishSession(ctx, merged)
	}
	return nil
}
