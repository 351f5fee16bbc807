// Package types defines the command channel response types.
package types

// Stats is the response body for GET_DB_STATS.
type Stats struct {
	Honeypots         int            `json:"nhoneypots"`
	Clients           int            `json:"nclients"`
	Sessions          int            `json:"nsessions"`
	BaitSessions      int            `json:"nbees"`
	Attacks           int            `json:"nattacks"`
	AttacksByProtocol map[string]int `json:"attacks"`
	Bees              BeeCounts      `json:"bees"`
	Classifications   map[string]int `json:"classifications"`
}

// BeeCounts splits bait sessions by whether the bait managed to log in.
type BeeCounts struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Credential is one authentication attempt in a session listing.
type Credential struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Successful bool   `json:"successful"`
}

// SessionRow represents a session in GET_SESSIONS_* responses.
type SessionRow struct {
	ID             string       `json:"id"`
	Time           string       `json:"time"`
	Protocol       string       `json:"protocol"`
	IPAddress      string       `json:"ip_address"`
	Classification string       `json:"classification"`
	AuthAttempts   []Credential `json:"auth_attempts"`
}

// TranscriptRow is one line of a GET_SESSION_TRANSCRIPT response.
type TranscriptRow struct {
	Time      string `json:"time"`
	Direction string `json:"direction"`
	Data      string `json:"data"`
}

// BaitUser represents a bait credential pair.
type BaitUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// BaitUserAdded is the response body for BAIT_USER_ADD.
type BaitUserAdded struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// DroneRow represents a drone in GET_DRONE_LIST and GET_DRONE responses.
type DroneRow struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IPAddress    string `json:"ip_address"`
	LastActivity string `json:"last_activity"`
}
