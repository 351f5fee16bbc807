package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/logging"
	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
	"github.com/rsclarke/beehive/internal/types"
)

const displayTime = "2006-01-02 15:04:05"

type commandFunc func(ctx context.Context, req messages.Request) (any, error)

func (e *Engine) commandTable() map[string]commandFunc {
	return map[string]commandFunc{
		messages.CmdGetDBStats:            e.cmdStats,
		messages.CmdGetSessionsAll:        e.cmdSessions(db.SessionsAll),
		messages.CmdGetSessionsAttacks:    e.cmdSessions(db.SessionsAttacks),
		messages.CmdGetSessionsBait:       e.cmdSessions(db.SessionsBait),
		messages.CmdGetSessionCredentials: e.cmdSessionCredentials,
		messages.CmdGetSessionTranscript:  e.cmdSessionTranscript,
		messages.CmdGetBaitUsers:          e.cmdBaitUsers,
		messages.CmdBaitUserAdd:           e.cmdBaitUserAdd,
		messages.CmdBaitUserDelete:        e.cmdBaitUserDelete,
		messages.CmdDroneAdd:              e.cmdDroneAdd,
		messages.CmdDroneDelete:           e.cmdDroneDelete,
		messages.CmdConfigDrone:           e.cmdConfigDrone,
		messages.CmdDroneConfig:           e.cmdDroneConfig,
		messages.CmdGetDroneList:          e.cmdDroneList,
		messages.CmdGetDrone:              e.cmdGetDrone,
	}
}

// HandleCommand executes one command frame and returns the encoded reply.
// The error is non-nil only for store failures, after which the engine must
// stop.
func (e *Engine) HandleCommand(ctx context.Context, data []byte) ([]byte, error) {
	req := messages.ParseRequest(data)
	handler, ok := e.commands[req.Command]
	if !ok {
		e.metrics.Commands.WithLabelValues("unknown", "fail").Inc()
		e.logger.Warn("unknown command", logging.Command(req.Command))
		return messages.Failure(fmt.Sprintf("%v: %s", ErrUnknownCommand, req.Command)), nil
	}

	result, err := handler(ctx, req)
	if err != nil {
		e.metrics.Commands.WithLabelValues(req.Command, "fail").Inc()
		if errors.Is(err, ErrStoreUnavailable) {
			e.logger.Error("store failure while handling command", logging.Command(req.Command), zap.Error(err))
			return messages.Failure(ErrStoreUnavailable.Error()), err
		}
		e.logger.Debug("command failed", logging.Command(req.Command), zap.Error(err))
		return messages.Failure(err.Error()), nil
	}

	resp, err := messages.Reply(result)
	if err != nil {
		e.metrics.Commands.WithLabelValues(req.Command, "fail").Inc()
		return messages.Failure(err.Error()), nil
	}
	e.metrics.Commands.WithLabelValues(req.Command, "ok").Inc()
	return resp, nil
}

// args returns exactly n arguments or ErrInvalidArguments.
func args(req messages.Request, n int) ([]string, error) {
	fields := req.Fields(n)
	if len(fields) != n {
		return nil, fmt.Errorf("%w: %s expects %d argument(s)", ErrInvalidArguments, req.Command, n)
	}
	return fields, nil
}

func (e *Engine) cmdStats(context.Context, messages.Request) (any, error) {
	st, err := db.GetStats(e.db)
	if err != nil {
		return nil, storeError("stats", err)
	}
	return types.Stats{
		Honeypots:         st.Honeypots,
		Clients:           st.Clients,
		Sessions:          st.Sessions,
		BaitSessions:      st.BaitSessions,
		Attacks:           st.Attacks,
		AttacksByProtocol: st.AttacksByProtocol,
		Bees:              types.BeeCounts{Successful: st.BaitSuccessful, Failed: st.BaitFailed},
		Classifications:   st.Classifications,
	}, nil
}

func (e *Engine) cmdSessions(filter db.SessionFilter) commandFunc {
	return func(context.Context, messages.Request) (any, error) {
		sessions, err := db.ListSessions(e.db, filter)
		if err != nil {
			return nil, storeError("list sessions", err)
		}
		rows := make([]types.SessionRow, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, types.SessionRow{
				ID:             s.ID,
				Time:           s.Timestamp.Format(displayTime),
				Protocol:       s.Protocol,
				IPAddress:      s.SourceIP,
				Classification: humanize(s.Classification),
				AuthAttempts:   credentials(s.Authentication),
			})
		}
		return rows, nil
	}
}

func (e *Engine) requireSession(id string) error {
	exists, err := db.SessionExists(e.db, id)
	if err != nil {
		return storeError("lookup session", err)
	}
	if !exists {
		return fmt.Errorf("%w: session %s", ErrReferenceNotFound, id)
	}
	return nil
}

func (e *Engine) cmdSessionCredentials(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	if err := e.requireSession(a[0]); err != nil {
		return nil, err
	}
	auths, err := db.GetAuthentications(e.db, a[0])
	if err != nil {
		return nil, storeError("list credentials", err)
	}
	return credentials(auths), nil
}

func (e *Engine) cmdSessionTranscript(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	if err := e.requireSession(a[0]); err != nil {
		return nil, err
	}
	items, err := db.GetTranscript(e.db, a[0])
	if err != nil {
		return nil, storeError("list transcript", err)
	}
	rows := make([]types.TranscriptRow, 0, len(items))
	for _, item := range items {
		rows = append(rows, types.TranscriptRow{
			Time:      item.Timestamp.Format(displayTime),
			Direction: item.Direction,
			Data:      item.Data,
		})
	}
	return rows, nil
}

func (e *Engine) cmdBaitUsers(context.Context, messages.Request) (any, error) {
	users, err := db.ListBaitUsers(e.db)
	if err != nil {
		return nil, storeError("list bait users", err)
	}
	rows := make([]types.BaitUser, 0, len(users))
	for _, u := range users {
		rows = append(rows, types.BaitUser{ID: u.ID, Username: u.Username, Password: u.Password})
	}
	return rows, nil
}

func (e *Engine) cmdBaitUserAdd(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 2)
	if err != nil {
		return nil, err
	}
	id, created, err := db.CreateBaitUser(e.db, a[0], a[1])
	if err != nil {
		return nil, storeError("add bait user", err)
	}

	// The first bait user unlocks edges that could not be built before.
	if created {
		users, err := db.ListBaitUsers(e.db)
		if err != nil {
			return nil, storeError("list bait users", err)
		}
		if len(users) == 1 {
			if err := e.rebuildEdges(); err != nil {
				return nil, err
			}
		}
	}
	return types.BaitUserAdded{ID: id, Created: created}, nil
}

func (e *Engine) cmdBaitUserDelete(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(a[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bait user id %q", ErrInvalidArguments, a[0])
	}

	u, err := db.GetBaitUser(e.db, id)
	if err != nil {
		return nil, storeError("lookup bait user", err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: bait user %d", ErrReferenceNotFound, id)
	}
	inUse, err := db.EdgeUsesCredentials(e.db, u.Username, u.Password)
	if err != nil {
		return nil, storeError("check edges", err)
	}
	if _, err := db.DeleteBaitUser(e.db, id); err != nil {
		return nil, storeError("delete bait user", err)
	}
	if inUse {
		if err := e.rebuildEdges(); err != nil {
			return nil, err
		}
	}
	return types.BaitUser{ID: u.ID, Username: u.Username, Password: u.Password}, nil
}

func (e *Engine) cmdDroneAdd(context.Context, messages.Request) (any, error) {
	id := uuid.NewString()
	if err := db.CreateDrone(e.db, id, e.now()); err != nil {
		return nil, storeError("add drone", err)
	}
	e.logger.Info("drone added", logging.DroneID(id))
	return e.droneConfig(id)
}

func (e *Engine) cmdDroneDelete(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	id := a[0]

	dr, err := db.GetDrone(e.db, id)
	if err != nil {
		return nil, storeError("lookup drone", err)
	}
	if dr == nil {
		return nil, fmt.Errorf("%w: drone %s", ErrReferenceNotFound, id)
	}
	if _, err := db.DeleteDrone(e.db, id); err != nil {
		return nil, storeError("delete drone", err)
	}

	if err := e.drones.SendToDrone(id, []byte(messages.DroneDelete)); err != nil {
		e.logger.Warn("failed to notify deleted drone", logging.DroneID(id), zap.Error(err))
	}
	e.logger.Info("drone deleted", logging.DroneID(id))

	if dr.Type != models.DroneUnassigned {
		if err := e.rebuildEdges(); err != nil {
			return nil, err
		}
	}
	return map[string]string{"id": id}, nil
}

func (e *Engine) cmdConfigDrone(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 2)
	if err != nil {
		return nil, err
	}
	id := a[0]

	settings, err := e.decoder.DecodeDroneSettings([]byte(a[1]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	dr, err := db.GetDrone(e.db, id)
	if err != nil {
		return nil, storeError("lookup drone", err)
	}
	if dr == nil {
		return nil, fmt.Errorf("%w: drone %s", ErrReferenceNotFound, id)
	}

	dr.Name = settings.Name
	dr.Type = models.DroneType(settings.Mode)
	dr.CertificateInfo = settings.CertificateInfo
	dr.BaitTimings = nil

	var caps []models.Capability
	switch dr.Type {
	case models.DroneHoneypot:
		for proto, c := range settings.Capabilities {
			proto = strings.ToLower(proto)
			port := c.Port
			if port == 0 {
				port = models.Protocols[proto].DefaultPort
			}
			caps = append(caps, models.Capability{
				HoneypotID:   id,
				Protocol:     proto,
				Port:         port,
				ProtocolData: c.ProtocolSpecificData,
			})
		}
	case models.DroneClient:
		dr.BaitTimings = make(map[string]models.BaitTiming, len(settings.BaitTimings))
		for proto, t := range settings.BaitTimings {
			dr.BaitTimings[strings.ToLower(proto)] = t
		}
	}

	if err := db.ConfigureDrone(e.db, dr, caps); err != nil {
		return nil, storeError("configure drone", err)
	}
	e.logger.Info("drone configured", logging.DroneID(id), zap.String("mode", settings.Mode))

	if err := e.rebuildEdges(); err != nil {
		return nil, err
	}
	return e.droneConfig(id)
}

func (e *Engine) cmdDroneConfig(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	return e.droneConfig(a[0])
}

func (e *Engine) cmdDroneList(_ context.Context, req messages.Request) (any, error) {
	filter := db.DronesAll
	if req.Args != "" {
		filter = db.DroneFilter(req.Args)
	}
	switch filter {
	case db.DronesAll, db.DronesUnassigned,
		db.DroneFilter(models.DroneHoneypot), db.DroneFilter(models.DroneClient):
	default:
		return nil, fmt.Errorf("%w: unknown drone filter %q", ErrInvalidArguments, req.Args)
	}

	drones, err := db.ListDrones(e.db, filter)
	if err != nil {
		return nil, storeError("list drones", err)
	}
	rows := make([]types.DroneRow, 0, len(drones))
	for i := range drones {
		rows = append(rows, droneRow(&drones[i]))
	}
	return rows, nil
}

func (e *Engine) cmdGetDrone(_ context.Context, req messages.Request) (any, error) {
	a, err := args(req, 1)
	if err != nil {
		return nil, err
	}
	dr, err := db.GetDrone(e.db, a[0])
	if err != nil {
		return nil, storeError("lookup drone", err)
	}
	if dr == nil {
		return nil, fmt.Errorf("%w: drone %s", ErrReferenceNotFound, a[0])
	}
	return droneRow(dr), nil
}

func droneRow(dr *models.Drone) types.DroneRow {
	lastActivity := "Never"
	if !dr.LastActivity.IsZero() {
		lastActivity = dr.LastActivity.Format(displayTime)
	}
	return types.DroneRow{
		ID:           dr.ID,
		Name:         dr.Name,
		Type:         string(dr.Type),
		IPAddress:    dr.IPAddress,
		LastActivity: lastActivity,
	}
}

func credentials(auths []models.Authentication) []types.Credential {
	out := make([]types.Credential, 0, len(auths))
	for _, a := range auths {
		out = append(out, types.Credential{Username: a.Username, Password: a.Password, Successful: a.Successful})
	}
	return out
}

// humanize turns a classification key into its display form,
// e.g. credentials_reuse becomes "Credentials reuse".
func humanize(key string) string {
	s := strings.ReplaceAll(key, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
