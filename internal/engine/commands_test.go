package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsclarke/beehive/internal/db"
	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
	"github.com/rsclarke/beehive/internal/types"
)

func (f *fixture) command(t *testing.T, verb string, args ...string) messages.Response {
	t.Helper()
	out, err := f.e.HandleCommand(context.Background(), messages.NewRequest(verb, args...).Bytes())
	require.NoError(t, err)
	resp, err := messages.ParseResponse(out)
	require.NoError(t, err)
	return resp
}

func (f *fixture) commandOK(t *testing.T, out any, verb string, args ...string) {
	t.Helper()
	resp := f.command(t, verb, args...)
	require.True(t, resp.OK, "%s failed: %s", verb, resp.Payload)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Payload, out))
	}
}

func TestCommandUnknown(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.command(t, "SELF_DESTRUCT")
	assert.False(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "unknown command")
}

func TestCommandStats(t *testing.T) {
	f := newFixture(t, nil)
	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-time.Minute), login("u", "p", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Minute), login("u", "p", true)))
	failed := bait("b2", base.Add(-time.Hour))
	failed.DidLogin = false
	f.mustIngest(t, models.OriginBait, failed)
	f.mustIngest(t, models.OriginDecoy, decoy("d2", base.Add(-time.Minute)))
	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))

	var st types.Stats
	f.commandOK(t, &st, messages.CmdGetDBStats)
	assert.Equal(t, 1, st.Honeypots)
	assert.Equal(t, 1, st.Clients)
	assert.Equal(t, 3, st.Sessions)
	assert.Equal(t, 2, st.BaitSessions)
	assert.Equal(t, 2, st.Attacks)
	assert.Equal(t, 2, st.AttacksByProtocol["ssh"])
	assert.Equal(t, 0, st.AttacksByProtocol["vnc"])
	assert.Equal(t, types.BeeCounts{Successful: 1, Failed: 1}, st.Bees)
	assert.Equal(t, 1, st.Classifications[models.ClassBaitSession])
	assert.Equal(t, 1, st.Classifications[models.ClassProbe])
}

func TestCommandSessionListings(t *testing.T) {
	f := newFixture(t, nil)
	f.mustIngest(t, models.OriginBait, bait("b1", base.Add(-time.Minute), login("u", "p", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d1", base.Add(-time.Minute), login("u", "p", true)))
	f.mustIngest(t, models.OriginDecoy, decoy("d2", base.Add(-30*time.Second), login("root", "root", false)))
	require.NoError(t, f.e.Sweep(context.Background(), 5*time.Second))

	var all, attacks, baits []types.SessionRow
	f.commandOK(t, &all, messages.CmdGetSessionsAll)
	f.commandOK(t, &attacks, messages.CmdGetSessionsAttacks)
	f.commandOK(t, &baits, messages.CmdGetSessionsBait)

	require.Len(t, all, 2)
	assert.Equal(t, "d2", all[0].ID, "newest first")
	require.Len(t, attacks, 1)
	assert.Equal(t, types.SessionRow{
		ID:             "d2",
		Time:           "2024-03-01 11:59:30",
		Protocol:       "ssh",
		IPAddress:      "192.0.2.10",
		Classification: "Bruteforce",
		AuthAttempts:   []types.Credential{{Username: "root", Password: "root"}},
	}, attacks[0])
	require.Len(t, baits, 1)
	assert.Equal(t, "Bait session", baits[0].Classification)
}

func TestCommandSessionDetails(t *testing.T) {
	f := newFixture(t, nil)
	p := decoy("d1", base, login("root", "toor", false), login("root", "root", true))
	p.Transcript = []messages.TranscriptLine{
		{Direction: "in", Data: "SSH-2.0-libssh"},
		{Direction: "out", Data: "SSH-2.0-OpenSSH_9.6"},
	}
	f.mustIngest(t, models.OriginDecoy, p)

	var creds []types.Credential
	f.commandOK(t, &creds, messages.CmdGetSessionCredentials, "d1")
	assert.Equal(t, []types.Credential{
		{Username: "root", Password: "toor"},
		{Username: "root", Password: "root", Successful: true},
	}, creds)

	var transcript []types.TranscriptRow
	f.commandOK(t, &transcript, messages.CmdGetSessionTranscript, "d1")
	require.Len(t, transcript, 2)
	assert.Equal(t, types.TranscriptRow{Time: "2024-03-01 12:00:00", Direction: "in", Data: "SSH-2.0-libssh"}, transcript[0])

	resp := f.command(t, messages.CmdGetSessionCredentials, "missing")
	assert.False(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "reference not found")

	resp = f.command(t, messages.CmdGetSessionTranscript)
	assert.False(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "invalid arguments")
}

func TestCommandBaitUsers(t *testing.T) {
	f := newFixture(t, nil)

	var added types.BaitUserAdded
	f.commandOK(t, &added, messages.CmdBaitUserAdd, "james", "bond")
	assert.True(t, added.Created)

	// The first bait user links hp1's capabilities to c1 and pushes configs.
	edges, err := db.ListEdgesByClient(f.db, "c1")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "james", edges[0].Username)
	assert.Equal(t, models.DefaultBaitTiming, edges[0].Timing)
	require.NotEmpty(t, f.drones.Sent("hp1"))
	require.NotEmpty(t, f.drones.Sent("c1"))
	assert.True(t, strings.HasPrefix(f.drones.Sent("c1")[0], "CONFIG {"))

	var again types.BaitUserAdded
	f.commandOK(t, &again, messages.CmdBaitUserAdd, "james", "bond")
	assert.False(t, again.Created)
	assert.Equal(t, added.ID, again.ID)

	var users []types.BaitUser
	f.commandOK(t, &users, messages.CmdGetBaitUsers)
	require.Len(t, users, 1)
	assert.Equal(t, types.BaitUser{ID: added.ID, Username: "james", Password: "bond"}, users[0])

	// Deleting the only user in use leaves no edges.
	var deleted types.BaitUser
	userID := strconv.FormatInt(added.ID, 10)
	f.commandOK(t, &deleted, messages.CmdBaitUserDelete, userID)
	assert.Equal(t, "james", deleted.Username)
	edges, err = db.ListEdgesByClient(f.db, "c1")
	require.NoError(t, err)
	assert.Empty(t, edges)

	resp := f.command(t, messages.CmdBaitUserDelete, userID)
	assert.False(t, resp.OK)
	resp = f.command(t, messages.CmdBaitUserDelete, "one")
	assert.False(t, resp.OK)
	assert.Contains(t, string(resp.Payload), "invalid arguments")
}

func TestCommandDroneLifecycle(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.BaitUsers = map[string]string{"alice": "wonder"}
		o.Server.NATSURL = "nats://hive.example:4222"
	})
	require.NoError(t, f.e.Prepare())

	var added messages.DroneConfig
	f.commandOK(t, &added, messages.CmdDroneAdd)
	id := added.General.ID
	require.NotEmpty(t, id)
	assert.Equal(t, "", added.General.Mode)
	assert.Equal(t, "nats://hive.example:4222", added.Server.NATSURL)
	assert.Equal(t, "beehive.drones."+id, added.Server.DroneSubject)

	var unassigned []types.DroneRow
	f.commandOK(t, &unassigned, messages.CmdGetDroneList, "unassigned")
	require.Len(t, unassigned, 1)
	assert.Equal(t, "Never", unassigned[0].LastActivity)

	settings := `{"mode":"honeypot","name":"edge-1","certificate_info":{"common_name":"edge-1"},` +
		`"capabilities":{"ftp":{"port":0},"telnet":{"port":2323}}}`
	var cfg messages.DroneConfig
	f.commandOK(t, &cfg, messages.CmdConfigDrone, id, settings)
	assert.Equal(t, "honeypot", cfg.General.Mode)
	assert.Equal(t, "edge-1", cfg.General.Name)
	require.Contains(t, cfg.Capabilities, "ftp")
	assert.Equal(t, 21, cfg.Capabilities["ftp"].Port)
	assert.Equal(t, 2323, cfg.Capabilities["telnet"].Port)
	assert.Equal(t, map[string]string{"alice": "wonder"}, cfg.Capabilities["ftp"].Users)

	var clientCfg messages.DroneConfig
	f.commandOK(t, &clientCfg, messages.CmdDroneConfig, "c1")
	require.Contains(t, clientCfg.Baits, id)
	assert.Equal(t, "alice", clientCfg.Baits[id]["telnet"].Username)
	assert.Equal(t, 2323, clientCfg.Baits[id]["telnet"].Port)

	var row types.DroneRow
	f.commandOK(t, &row, messages.CmdGetDrone, id)
	assert.Equal(t, "edge-1", row.Name)

	var honeypots []types.DroneRow
	f.commandOK(t, &honeypots, messages.CmdGetDroneList, "honeypot")
	assert.Len(t, honeypots, 2)

	f.commandOK(t, nil, messages.CmdDroneDelete, id)
	sent := f.drones.Sent(id)
	require.NotEmpty(t, sent)
	assert.Equal(t, messages.DroneDelete, sent[len(sent)-1])

	var after messages.DroneConfig
	f.commandOK(t, &after, messages.CmdDroneConfig, "c1")
	assert.NotContains(t, after.Baits, id)

	resp := f.command(t, messages.CmdGetDrone, id)
	assert.False(t, resp.OK)
	resp = f.command(t, messages.CmdGetDroneList, "bees")
	assert.False(t, resp.OK)
}

func TestCommandConfigDroneValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing body", []string{"hp1"}, "invalid arguments"},
		{"bad json", []string{"hp1", "{"}, "invalid arguments"},
		{"bad mode", []string{"hp1", `{"mode":"queen"}`}, "invalid arguments"},
		{"unknown protocol", []string{"hp1", `{"mode":"honeypot","capabilities":{"gopher":{}}}`}, "invalid arguments"},
		{"unknown drone", []string{"ghost", `{"mode":"client"}`}, "reference not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.command(t, messages.CmdConfigDrone, tt.args...)
			assert.False(t, resp.OK)
			assert.Contains(t, string(resp.Payload), tt.want)
		})
	}
}

func TestCommandClientBaitTimings(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.BaitUsers = map[string]string{"u": "p"} })
	require.NoError(t, f.e.Prepare())

	settings := `{"mode":"client","name":"laptop","bait_timings":{"ssh":` +
		`{"active_range":"08:00 - 17:00","sleep_interval":300,"activation_probability":0.5}}}`
	var cfg messages.DroneConfig
	f.commandOK(t, &cfg, messages.CmdConfigDrone, "c1", settings)

	want := models.BaitTiming{ActiveRange: "08:00 - 17:00", SleepInterval: 300, ActivationProbability: 0.5}
	assert.Equal(t, want, cfg.BaitTimings["ssh"])
	assert.Equal(t, want, cfg.Baits["hp1"]["ssh"].BaitTiming)
	assert.Equal(t, models.DefaultBaitTiming, cfg.Baits["hp1"]["pop3"].BaitTiming)
}

func TestCommandStoreFailureIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.db.Close())

	out, err := f.e.HandleCommand(context.Background(), []byte(messages.CmdGetDBStats))
	require.ErrorIs(t, err, ErrStoreUnavailable)
	resp, perr := messages.ParseResponse(out)
	require.NoError(t, perr)
	assert.False(t, resp.OK)
}
