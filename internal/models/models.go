// Package models defines the database entity types.
package models

import "time"

// Origin identifies which side of the deception fabric produced a session.
type Origin string

const (
	// OriginDecoy marks a session observed by a decoy (honeypot) drone.
	OriginDecoy Origin = "decoy"
	// OriginBait marks a session generated by a bait (client) drone.
	OriginBait Origin = "bait"
)

// Opposite returns the origin a session of this origin correlates against.
func (o Origin) Opposite() Origin {
	if o == OriginDecoy {
		return OriginBait
	}
	return OriginDecoy
}

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	return o == OriginDecoy || o == OriginBait
}

// Classification keys.
const (
	ClassPending          = "pending"
	ClassBaitSession      = "bait_session"
	ClassMITM             = "mitm"
	ClassCredentialsReuse = "credentials_reuse"
	ClassProbe            = "probe"
	ClassBruteforce       = "bruteforce"
)

// Classification is a seeded lookup row describing a session verdict.
type Classification struct {
	Key              string
	DescriptionShort string
	DescriptionLong  string
}

// Session is one observed connection from either origin.
type Session struct {
	ID              string           `json:"id"`
	Origin          Origin           `json:"origin"`
	Protocol        string           `json:"protocol"`
	Timestamp       time.Time        `json:"timestamp"`
	Received        time.Time        `json:"received"`
	SourceIP        string           `json:"source_ip"`
	SourcePort      int              `json:"source_port"`
	DestinationIP   string           `json:"destination_ip"`
	DestinationPort int              `json:"destination_port"`
	HoneypotID      string           `json:"honeypot_id"`
	ClientID        string           `json:"client_id,omitempty"`
	Classification  string           `json:"classification"`
	Authentication  []Authentication `json:"authentication"`
	Transcript      []TranscriptItem `json:"transcript,omitempty"`
	Data            []SessionData    `json:"session_data,omitempty"`
	DidConnect      bool             `json:"did_connect"`
	DidLogin        bool             `json:"did_login"`
	DidComplete     bool             `json:"did_complete"`
}

// Pending reports whether the session still awaits a verdict.
func (s *Session) Pending() bool {
	return s.Classification == ClassPending
}

// Authentication is a single login attempt recorded against a session.
type Authentication struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Successful bool      `json:"successful"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptItem is one line of protocol conversation.
type TranscriptItem struct {
	Direction string    `json:"direction"`
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionData is protocol-specific auxiliary data captured by a decoy.
type SessionData struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DroneType is the role assigned to a drone.
type DroneType string

const (
	DroneUnassigned DroneType = ""
	DroneHoneypot   DroneType = "honeypot"
	DroneClient     DroneType = "client"
)

// Drone is a registered decoy or bait agent.
type Drone struct {
	ID              string
	Name            string
	Type            DroneType
	IPAddress       string
	Certificate     string
	CertificateInfo map[string]string
	BaitTimings     map[string]BaitTiming
	LastActivity    time.Time
	CreatedAt       time.Time
}

// BaitTiming controls when and how often a bait drone exercises a protocol.
type BaitTiming struct {
	ActiveRange           string  `json:"active_range" yaml:"active_range"`
	SleepInterval         int     `json:"sleep_interval" yaml:"sleep_interval" validate:"gte=0"`
	ActivationProbability float64 `json:"activation_probability" yaml:"activation_probability" validate:"gte=0,lte=1"`
}

// DefaultBaitTiming is used for protocols a client has no explicit timing for.
var DefaultBaitTiming = BaitTiming{
	ActiveRange:           "00:00 - 23:59",
	SleepInterval:         60,
	ActivationProbability: 1,
}

// Capability is a protocol a honeypot drone exposes.
type Capability struct {
	ID           int64
	HoneypotID   string
	Protocol     string
	Port         int
	ProtocolData map[string]any
}

// BaitUser is a credential pair handed to bait drones.
type BaitUser struct {
	ID       int64
	Username string
	Password string
}

// DroneEdge links a bait drone to one honeypot capability with the
// credentials and timing it should use.
type DroneEdge struct {
	ID           int64
	ClientID     string
	CapabilityID int64
	Username     string
	Password     string
	Timing       BaitTiming

	// Populated from the joined capability and honeypot rows.
	Protocol   string
	Port       int
	HoneypotID string
	HoneypotIP string
}

// ProtocolInfo describes a protocol decoys can expose.
type ProtocolInfo struct {
	DefaultPort int
}

// Protocols is the registry of protocols drones may be configured with.
var Protocols = map[string]ProtocolInfo{
	"ftp":    {DefaultPort: 21},
	"ssh":    {DefaultPort: 22},
	"telnet": {DefaultPort: 23},
	"smtp":   {DefaultPort: 25},
	"http":   {DefaultPort: 80},
	"pop3":   {DefaultPort: 110},
	"https":  {DefaultPort: 443},
	"pop3s":  {DefaultPort: 995},
	"vnc":    {DefaultPort: 5900},
}
