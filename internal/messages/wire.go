// Package messages implements the space-delimited text framing used between
// drones, the engine and operators, and the JSON bodies carried inside it.
package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rsclarke/beehive/internal/models"
)

// Inbound drone message types.
const (
	SessionHoneypot = "SESSION_HONEYPOT"
	SessionClient   = "SESSION_CLIENT"
	Ping            = "PING"
	IP              = "IP"
	Cert            = "CERT"
	DroneWantConfig = "DRONE_WANT_CONFIG"
)

// Outbound message types.
const (
	Session           = "SESSION"
	DeletedDueToMerge = "DELETED_DUE_TO_MERGE"
	Config            = "CONFIG"
	DroneDelete       = "DRONE_DELETE"
)

// Command channel verbs.
const (
	CmdGetDBStats            = "GET_DB_STATS"
	CmdGetSessionsAll        = "GET_SESSIONS_ALL"
	CmdGetSessionsAttacks    = "GET_SESSIONS_ATTACKS"
	CmdGetSessionsBait       = "GET_SESSIONS_BAIT"
	CmdGetSessionCredentials = "GET_SESSION_CREDENTIALS"
	CmdGetSessionTranscript  = "GET_SESSION_TRANSCRIPT"
	CmdGetBaitUsers          = "GET_BAIT_USERS"
	CmdBaitUserAdd           = "BAIT_USER_ADD"
	CmdBaitUserDelete        = "BAIT_USER_DELETE"
	CmdDroneAdd              = "DRONE_ADD"
	CmdDroneDelete           = "DRONE_DELETE"
	CmdConfigDrone           = "CONFIG_DRONE"
	CmdDroneConfig           = "DRONE_CONFIG"
	CmdGetDroneList          = "GET_DRONE_LIST"
	CmdGetDrone              = "GET_DRONE"
)

// Reply status words.
const (
	StatusOK   = "OK"
	StatusFail = "FAIL"
)

// ErrEmptyMessage is returned for frames without a type word.
var ErrEmptyMessage = errors.New("empty message")

// Envelope is a drone message: "<TYPE> <DRONE_ID> <BODY>". Body may contain
// spaces and may be empty.
type Envelope struct {
	Type    string
	DroneID string
	Body    []byte
}

// ParseEnvelope splits a raw drone frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	data = bytes.TrimSpace(data)
	typ, rest, _ := bytes.Cut(data, []byte(" "))
	if len(typ) == 0 {
		return Envelope{}, ErrEmptyMessage
	}
	id, body, _ := bytes.Cut(rest, []byte(" "))
	if len(id) == 0 {
		return Envelope{}, fmt.Errorf("%s message without drone id", typ)
	}
	return Envelope{Type: string(typ), DroneID: string(id), Body: body}, nil
}

// Bytes renders the envelope back into its wire form.
func (e Envelope) Bytes() []byte {
	return join(e.Type, e.DroneID, string(e.Body))
}

// Request is a command channel request: "<COMMAND> <ARGS>".
type Request struct {
	Command string
	Args    string
}

// ParseRequest splits a command frame.
func ParseRequest(data []byte) Request {
	cmd, args, _ := strings.Cut(strings.TrimSpace(string(data)), " ")
	return Request{Command: cmd, Args: strings.TrimSpace(args)}
}

// NewRequest builds a request from a verb and its arguments.
func NewRequest(command string, args ...string) Request {
	return Request{Command: command, Args: strings.Join(args, " ")}
}

// Fields splits the arguments into at most n space-separated fields. The last
// field keeps any remaining spaces.
func (r Request) Fields(n int) []string {
	if r.Args == "" {
		return nil
	}
	return strings.SplitN(r.Args, " ", n)
}

// Bytes renders the request into its wire form.
func (r Request) Bytes() []byte {
	return join(r.Command, r.Args)
}

// Response is a command channel reply: "OK <json>" or "FAIL <reason>".
type Response struct {
	OK      bool
	Payload []byte
}

// ParseResponse splits a reply frame.
func ParseResponse(data []byte) (Response, error) {
	status, payload, _ := bytes.Cut(bytes.TrimSpace(data), []byte(" "))
	switch string(status) {
	case StatusOK:
		return Response{OK: true, Payload: payload}, nil
	case StatusFail:
		return Response{OK: false, Payload: payload}, nil
	default:
		return Response{}, fmt.Errorf("unexpected reply status %q", status)
	}
}

// Reply encodes a successful command result.
func Reply(result any) ([]byte, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return join(StatusOK, string(body)), nil
}

// Failure encodes a failed command reply.
func Failure(reason string) []byte {
	return join(StatusFail, reason)
}

// FormatSession renders a classified-session notification.
func FormatSession(s *models.Session) ([]byte, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return join(Session, string(body)), nil
}

// FormatMerge renders the notification that a decoy session was folded into
// a bait session.
func FormatMerge(decoyID, baitID string) []byte {
	return join(DeletedDueToMerge, decoyID, baitID)
}

// FormatConfig renders a configuration push for a drone.
func FormatConfig(cfg *DroneConfig) ([]byte, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode drone config: %w", err)
	}
	return join(Config, string(body)), nil
}

func join(parts ...string) []byte {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return []byte(b.String())
}
