package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/db"
)

// RunMaintenance deletes bait sessions older than baitRetainDays and every
// other session older than maliciousRetainDays, judged by session timestamp.
func (e *Engine) RunMaintenance(baitRetainDays, maliciousRetainDays int) (deletedBait, deletedMalicious int64, err error) {
	now := e.now()

	deletedMalicious, err = db.DeleteSessionsOlderThan(e.db, now.Add(-days(maliciousRetainDays)), false)
	if err != nil {
		return 0, 0, storeError("delete malicious sessions", err)
	}
	deletedBait, err = db.DeleteSessionsOlderThan(e.db, now.Add(-days(baitRetainDays)), true)
	if err != nil {
		return 0, deletedMalicious, storeError("delete bait sessions", err)
	}

	e.metrics.RetentionDeleted.WithLabelValues("bait").Add(float64(deletedBait))
	e.metrics.RetentionDeleted.WithLabelValues("malicious").Add(float64(deletedMalicious))
	return deletedBait, deletedMalicious, nil
}

// maintain runs retention from the actor loop. Failures are logged only.
func (e *Engine) maintain() {
	bait, malicious, err := e.RunMaintenance(e.opts.BaitRetainDays, e.opts.MaliciousRetainDays)
	if err != nil {
		e.logger.Error("session maintenance failed", zap.Error(err))
		return
	}
	e.logger.Info("session maintenance done",
		zap.Int64("deleted_bait", bait),
		zap.Int64("deleted_malicious", malicious))
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
