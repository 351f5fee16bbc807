package messages

import "github.com/rsclarke/beehive/internal/models"

// DroneSettings is the operator-supplied body of CONFIG_DRONE.
type DroneSettings struct {
	Mode            string                        `json:"mode" validate:"required,oneof=honeypot client"`
	Name            string                        `json:"name" validate:"max=128"`
	CertificateInfo map[string]string             `json:"certificate_info,omitempty"`
	Capabilities    map[string]CapabilitySettings `json:"capabilities,omitempty" validate:"omitempty,dive,keys,protocol,endkeys"`
	BaitTimings     map[string]models.BaitTiming  `json:"bait_timings,omitempty" validate:"omitempty,dive,keys,protocol,endkeys"`
}

// CapabilitySettings configures one protocol on a honeypot. A zero port
// selects the protocol's default.
type CapabilitySettings struct {
	Port                 int            `json:"port" validate:"gte=0,lte=65535"`
	ProtocolSpecificData map[string]any `json:"protocol_specific_data,omitempty"`
}

// DroneConfig is the document pushed to drones with CONFIG and returned by
// DRONE_CONFIG.
type DroneConfig struct {
	General         General                          `json:"general"`
	Server          ServerEndpoint                   `json:"beehive_server"`
	CertificateInfo map[string]string                `json:"certificate_info,omitempty"`
	Capabilities    map[string]CapabilityConfig      `json:"capabilities,omitempty"`
	Baits           map[string]map[string]BaitConfig `json:"baits,omitempty"`
	BaitTimings     map[string]models.BaitTiming     `json:"bait_timings,omitempty"`
}

// General holds the identity section of a drone config.
type General struct {
	Mode    string `json:"mode"`
	ID      string `json:"id"`
	Name    string `json:"name"`
	FetchIP bool   `json:"fetch_ip"`
}

// ServerEndpoint tells a drone where to reach the engine.
type ServerEndpoint struct {
	Host               string `json:"host,omitempty"`
	NATSURL            string `json:"nats_url"`
	RawSessionsSubject string `json:"raw_sessions_subject"`
	DroneSubject       string `json:"drone_subject"`
}

// CapabilityConfig is one enabled protocol on a honeypot, with the bait
// credentials it must accept.
type CapabilityConfig struct {
	Enabled              bool              `json:"enabled"`
	Port                 int               `json:"port"`
	ProtocolSpecificData map[string]any    `json:"protocol_specific_data,omitempty"`
	Users                map[string]string `json:"users"`
}

// BaitConfig tells a client drone how to exercise one honeypot capability.
type BaitConfig struct {
	Server     string `json:"server"`
	Port       int    `json:"port"`
	HoneypotID string `json:"honeypot_id"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	models.BaitTiming
}
