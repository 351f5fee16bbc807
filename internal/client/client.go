package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/types"
)

// Requester sends a request and waits for the reply.
type Requester interface {
	Request(subject string, data []byte, timeout time.Duration) (*nats.Msg, error)
}

// Error is a FAIL reply from the engine.
type Error struct {
	Command string
	Reason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

type Client struct {
	conn    Requester
	subject string
	timeout time.Duration
	nc      *nats.Conn
}

func NewClient(conn Requester, subject string, timeout time.Duration) *Client {
	return &Client{
		conn:    conn,
		subject: subject,
		timeout: timeout,
	}
}

// Dial connects to NATS and returns a client for the command subject.
func Dial(url, subject string, timeout time.Duration) (*Client, error) {
	nc, err := nats.Connect(url, nats.Name("beehive-client"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	c := NewClient(nc, subject, timeout)
	c.nc = nc
	return c, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}

func (c *Client) do(out any, command string, args ...string) error {
	req := messages.NewRequest(command, args...)
	msg, err := c.conn.Request(c.subject, req.Bytes(), c.timeout)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%s: no engine is listening on %s", command, c.subject)
		}
		return fmt.Errorf("%s: %w", command, err)
	}

	resp, err := messages.ParseResponse(msg.Data)
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	if !resp.OK {
		return &Error{Command: command, Reason: string(resp.Payload)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("%s: decode reply: %w", command, err)
	}
	return nil
}

func (c *Client) Stats() (*types.Stats, error) {
	var st types.Stats
	if err := c.do(&st, messages.CmdGetDBStats); err != nil {
		return nil, err
	}
	return &st, nil
}

// Sessions lists sessions. kind is "all", "attacks" or "bait".
func (c *Client) Sessions(kind string) ([]types.SessionRow, error) {
	var cmd string
	switch kind {
	case "", "all":
		cmd = messages.CmdGetSessionsAll
	case "attacks":
		cmd = messages.CmdGetSessionsAttacks
	case "bait":
		cmd = messages.CmdGetSessionsBait
	default:
		return nil, fmt.Errorf("unknown session kind %q", kind)
	}
	var rows []types.SessionRow
	if err := c.do(&rows, cmd); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) SessionCredentials(id string) ([]types.Credential, error) {
	var creds []types.Credential
	if err := c.do(&creds, messages.CmdGetSessionCredentials, id); err != nil {
		return nil, err
	}
	return creds, nil
}

func (c *Client) SessionTranscript(id string) ([]types.TranscriptRow, error) {
	var rows []types.TranscriptRow
	if err := c.do(&rows, messages.CmdGetSessionTranscript, id); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) BaitUsers() ([]types.BaitUser, error) {
	var users []types.BaitUser
	if err := c.do(&users, messages.CmdGetBaitUsers); err != nil {
		return nil, err
	}
	return users, nil
}

func (c *Client) AddBaitUser(username, password string) (*types.BaitUserAdded, error) {
	var added types.BaitUserAdded
	if err := c.do(&added, messages.CmdBaitUserAdd, username, password); err != nil {
		return nil, err
	}
	return &added, nil
}

func (c *Client) DeleteBaitUser(id int64) (*types.BaitUser, error) {
	var u types.BaitUser
	if err := c.do(&u, messages.CmdBaitUserDelete, strconv.FormatInt(id, 10)); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) AddDrone() (*messages.DroneConfig, error) {
	var cfg messages.DroneConfig
	if err := c.do(&cfg, messages.CmdDroneAdd); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) DeleteDrone(id string) error {
	return c.do(nil, messages.CmdDroneDelete, id)
}

func (c *Client) ConfigureDrone(id string, settings *messages.DroneSettings) (*messages.DroneConfig, error) {
	body, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	var cfg messages.DroneConfig
	if err := c.do(&cfg, messages.CmdConfigDrone, id, string(body)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Client) DroneConfig(id string) (*messages.DroneConfig, error) {
	var cfg messages.DroneConfig
	if err := c.do(&cfg, messages.CmdDroneConfig, id); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Drones lists drones. filter is "all", "unassigned", "honeypot" or "client".
func (c *Client) Drones(filter string) ([]types.DroneRow, error) {
	var args []string
	if filter != "" {
		args = append(args, filter)
	}
	var rows []types.DroneRow
	if err := c.do(&rows, messages.CmdGetDroneList, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) Drone(id string) (*types.DroneRow, error) {
	var row types.DroneRow
	if err := c.do(&row, messages.CmdGetDrone, id); err != nil {
		return nil, err
	}
	return &row, nil
}
