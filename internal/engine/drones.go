package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
)

// rebuildEdges recomputes which client baits which honeypot capability and
// pushes fresh configuration to every assigned drone. Each edge gets a bait
// user picked at random. Without bait users no edges exist.
func (e *Engine) rebuildEdges() error {
	honeypots, err := db.ListDrones(e.db, db.DroneFilter(models.DroneHoneypot))
	if err != nil {
		return storeError("list honeypots", err)
	}
	clients, err := db.ListDrones(e.db, db.DroneFilter(models.DroneClient))
	if err != nil {
		return storeError("list clients", err)
	}
	users, err := db.ListBaitUsers(e.db)
	if err != nil {
		return storeError("list bait users", err)
	}

	var edges []models.DroneEdge
	if len(users) > 0 {
		for _, hp := range honeypots {
			caps, err := db.ListCapabilities(e.db, hp.ID)
			if err != nil {
				return storeError("list capabilities", err)
			}
			for _, c := range caps {
				for _, client := range clients {
					timing, ok := client.BaitTimings[c.Protocol]
					if !ok {
						timing = models.DefaultBaitTiming
					}
					u := users[e.rng.IntN(len(users))]
					edges = append(edges, models.DroneEdge{
						ClientID:     client.ID,
						CapabilityID: c.ID,
						Username:     u.Username,
						Password:     u.Password,
						Timing:       timing,
					})
				}
			}
		}
	}

	if err := db.ReplaceEdges(e.db, edges); err != nil {
		return storeError("replace edges", err)
	}
	e.logger.Debug("bait edges rebuilt", zap.Int("edges", len(edges)))

	for _, group := range [][]models.Drone{honeypots, clients} {
		for _, dr := range group {
			if err := e.pushConfig(dr.ID); err != nil {
				e.logger.Warn("failed to push drone config", logging.DroneID(dr.ID), zap.Error(err))
			}
		}
	}
	return nil
}

// droneConfig assembles the configuration document for one drone.
func (e *Engine) droneConfig(id string) (*messages.DroneConfig, error) {
	dr, err := db.GetDrone(e.db, id)
	if err != nil {
		return nil, storeError("lookup drone", err)
	}
	if dr == nil {
		return nil, fmt.Errorf("%w: drone %s", ErrReferenceNotFound, id)
	}

	server := e.opts.Server
	server.DroneSubject = e.opts.DroneCommandsPrefix + "." + id

	cfg := &messages.DroneConfig{
		General: messages.General{
			Mode:    string(dr.Type),
			ID:      dr.ID,
			Name:    dr.Name,
			FetchIP: true,
		},
		Server: server,
	}

	switch dr.Type {
	case models.DroneHoneypot:
		cfg.CertificateInfo = dr.CertificateInfo
		caps, err := db.ListCapabilities(e.db, id)
		if err != nil {
			return nil, storeError("list capabilities", err)
		}
		cfg.Capabilities = make(map[string]messages.CapabilityConfig, len(caps))
		for _, c := range caps {
			edges, err := db.ListEdgesByCapability(e.db, c.ID)
			if err != nil {
				return nil, storeError("list edges", err)
			}
			users := make(map[string]string, len(edges))
			for _, edge := range edges {
				users[edge.Username] = edge.Password
			}
			cfg.Capabilities[c.Protocol] = messages.CapabilityConfig{
				Enabled:              true,
				Port:                 c.Port,
				ProtocolSpecificData: c.ProtocolData,
				Users:                users,
			}
		}
	case models.DroneClient:
		edges, err := db.ListEdgesByClient(e.db, id)
		if err != nil {
			return nil, storeError("list edges", err)
		}
		cfg.Baits = make(map[string]map[string]messages.BaitConfig)
		for _, edge := range edges {
			byProto, ok := cfg.Baits[edge.HoneypotID]
			if !ok {
				byProto = make(map[string]messages.BaitConfig)
				cfg.Baits[edge.HoneypotID] = byProto
			}
			byProto[edge.Protocol] = messages.BaitConfig{
				Server:     edge.HoneypotIP,
				Port:       edge.Port,
				HoneypotID: edge.HoneypotID,
				Username:   edge.Username,
				Password:   edge.Password,
				BaitTiming: edge.Timing,
			}
		}
		cfg.BaitTimings = dr.BaitTimings
	}
	return cfg, nil
}

// pushConfig sends a drone its current configuration.
func (e *Engine) pushConfig(id string) error {
	cfg, err := e.droneConfig(id)
	if err != nil {
		return err
	}
	frame, err := messages.FormatConfig(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return e.drones.SendToDrone(id, frame)
}
