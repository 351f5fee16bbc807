package engine

import (
	"context"
	"encoding/pem"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
)

// HandleMessage dispatches one raw drone frame. Rejected frames are logged
// and counted; only store failures are returned.
func (e *Engine) HandleMessage(ctx context.Context, data []byte) error {
	env, err := messages.ParseEnvelope(data)
	if err != nil {
		e.reject("", "", fmt.Errorf("%w: %v", ErrMalformedPayload, err))
		return nil
	}

	switch env.Type {
	case messages.SessionHoneypot:
		err = e.Ingest(ctx, models.OriginDecoy, env.Body)
	case messages.SessionClient:
		err = e.Ingest(ctx, models.OriginBait, env.Body)
	case messages.Ping:
		err = e.touchDrone(env.DroneID)
	case messages.IP:
		err = e.setDroneIP(env.DroneID, env.Body)
	case messages.Cert:
		err = e.setDroneCert(env.DroneID, env.Body)
	case messages.DroneWantConfig:
		err = e.pushConfig(env.DroneID)
		if errors.Is(err, ErrReferenceNotFound) {
			err = fmt.Errorf("%w: %s", ErrUnknownDrone, env.DroneID)
		}
	default:
		err = fmt.Errorf("%w: unknown message type %q", ErrMalformedPayload, env.Type)
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) {
		e.logger.Error("store failure while handling message",
			logging.MessageType(env.Type), logging.DroneID(env.DroneID), zap.Error(err))
		return err
	}
	e.reject(env.Type, env.DroneID, err)
	return nil
}

func (e *Engine) reject(msgType, droneID string, err error) {
	e.metrics.Dropped.WithLabelValues(dropReason(err)).Inc()
	e.logger.Warn("message rejected",
		logging.MessageType(msgType), logging.DroneID(droneID), zap.Error(err))
}

// Ingest decodes a session reported by a drone of the given origin, stores it
// as pending and immediately tries to correlate it.
func (e *Engine) Ingest(ctx context.Context, origin models.Origin, body []byte) error {
	if e.opts.MaxSessions == 0 {
		e.metrics.Dropped.WithLabelValues("disabled").Inc()
		return nil
	}

	payload, err := e.decoder.DecodeSession(origin, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if origin == models.OriginBait && !payload.DidComplete && e.opts.IgnoreFailedBaitSessions {
		e.metrics.Dropped.WithLabelValues("failed_bait").Inc()
		e.logger.Debug("ignoring failed bait session", logging.SessionID(payload.ID))
		return nil
	}

	now := e.now()
	if e.opts.MaxClockSkew > 0 && payload.Timestamp.After(now.Add(e.opts.MaxClockSkew)) {
		return fmt.Errorf("%w: session %s timestamp %s is in the future",
			ErrMalformedPayload, payload.ID, payload.Timestamp.Format(messages.TimestampLayout))
	}

	if e.recent.Contains(payload.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, payload.ID)
	}
	exists, err := db.SessionExists(e.db, payload.ID)
	if err != nil {
		return storeError("check duplicate", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, payload.ID)
	}

	if err := e.checkDrones(payload, origin); err != nil {
		return err
	}
	if err := e.enforceCapacity(); err != nil {
		return err
	}

	s := payload.Session(origin, now)
	if err := db.CreateSession(e.db, s); err != nil {
		return storeError("insert session", err)
	}
	e.recent.Add(s.ID, struct{}{})
	e.metrics.Ingested.WithLabelValues(string(origin)).Inc()
	e.logger.Debug("session ingested",
		logging.SessionID(s.ID), logging.Origin(string(origin)), logging.Protocol(s.Protocol))

	match, err := e.FindMatch(s)
	if err != nil {
		return err
	}
	if match != nil {
		return e.merge(ctx, s, match)
	}
	return nil
}

// checkDrones verifies that the session's decoy, and for bait sessions its
// client, are registered. A bait session counts as client activity.
func (e *Engine) checkDrones(p *messages.SessionPayload, origin models.Origin) error {
	honeypot, err := db.GetDrone(e.db, p.HoneypotID)
	if err != nil {
		return storeError("lookup decoy", err)
	}
	if honeypot == nil || honeypot.Type != models.DroneHoneypot {
		return fmt.Errorf("%w: %w: decoy %s", ErrMalformedPayload, ErrUnknownDrone, p.HoneypotID)
	}

	if origin != models.OriginBait {
		return nil
	}
	client, err := db.GetDrone(e.db, p.ClientID)
	if err != nil {
		return storeError("lookup client", err)
	}
	if client == nil || client.Type != models.DroneClient {
		return fmt.Errorf("%w: %w: client %s", ErrMalformedPayload, ErrUnknownDrone, p.ClientID)
	}
	if _, err := db.TouchDrone(e.db, client.ID, e.now()); err != nil {
		return storeError("touch client", err)
	}
	return nil
}

// enforceCapacity evicts the oldest sessions until one more fits.
func (e *Engine) enforceCapacity() error {
	if e.opts.MaxSessions < 0 {
		return nil
	}
	for {
		n, err := db.CountSessions(e.db)
		if err != nil {
			return storeError("count sessions", err)
		}
		if n < e.opts.MaxSessions {
			return nil
		}
		id, err := db.DeleteOldestSession(e.db)
		if err != nil {
			return storeError("evict session", err)
		}
		if id == "" {
			return nil
		}
		e.metrics.Evicted.Inc()
		e.logger.Info("evicted oldest session", logging.SessionID(id), zap.Int("max_sessions", e.opts.MaxSessions))
	}
}

func (e *Engine) touchDrone(id string) error {
	ok, err := db.TouchDrone(e.db, id, e.now())
	if err != nil {
		return storeError("touch drone", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, id)
	}
	return nil
}

func (e *Engine) setDroneIP(id string, body []byte) error {
	addr := strings.TrimSpace(string(body))
	if net.ParseIP(addr) == nil {
		return fmt.Errorf("%w: invalid ip %q", ErrMalformedPayload, addr)
	}
	ok, err := db.SetDroneIP(e.db, id, addr)
	if err != nil {
		return storeError("set drone ip", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, id)
	}
	return nil
}

func (e *Engine) setDroneCert(id string, body []byte) error {
	if block, _ := pem.Decode(body); block == nil {
		return fmt.Errorf("%w: certificate is not PEM encoded", ErrMalformedPayload)
	}
	ok, err := db.SetDroneCertificate(e.db, id, string(body))
	if err != nil {
		return storeError("set drone certificate", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDrone, id)
	}
	return nil
}
