package messages

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rsclarke/beehive/internal/models"
)

// TimestampLayout is the format drones use for session timestamps. Values
// carry no zone and are interpreted as UTC.
const TimestampLayout = "2006-01-02T15:04:05.000000"

var timestampLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// Timestamp is a time.Time that accepts the drone timestamp formats.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(TimestampLayout))
}

// SessionPayload is the JSON body of SESSION_HONEYPOT and SESSION_CLIENT.
type SessionPayload struct {
	ID              string           `json:"id" validate:"required,max=128"`
	Protocol        string           `json:"protocol" validate:"required,max=32"`
	Timestamp       Timestamp        `json:"timestamp"`
	SourceIP        string           `json:"source_ip" validate:"omitempty,ip"`
	SourcePort      int              `json:"source_port" validate:"gte=0,lte=65535"`
	DestinationIP   string           `json:"destination_ip" validate:"omitempty,ip"`
	DestinationPort int              `json:"destination_port" validate:"gte=0,lte=65535"`
	HoneypotID      string           `json:"honeypot_id" validate:"required"`
	ClientID        string           `json:"client_id,omitempty"`
	LoginAttempts   []LoginAttempt   `json:"login_attempts" validate:"dive"`
	Transcript      []TranscriptLine `json:"transcript,omitempty" validate:"dive"`
	SessionData     []SessionDatum   `json:"session_data,omitempty" validate:"dive"`
	DidConnect      bool             `json:"did_connect"`
	DidLogin        bool             `json:"did_login"`
	DidComplete     bool             `json:"did_complete"`
}

// LoginAttempt is one authentication attempt reported by a drone.
type LoginAttempt struct {
	ID         string    `json:"id,omitempty"`
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Successful bool      `json:"successful"`
	Timestamp  Timestamp `json:"timestamp"`
}

// TranscriptLine is one line of protocol conversation reported by a decoy.
type TranscriptLine struct {
	Direction string    `json:"direction" validate:"oneof=in out"`
	Data      string    `json:"data"`
	Timestamp Timestamp `json:"timestamp"`
}

// SessionDatum is protocol-specific auxiliary data reported by a decoy.
type SessionDatum struct {
	Type string `json:"type" validate:"required"`
	Data string `json:"data"`
}

// Session converts the payload into a pending session of the given origin.
// Attempts without an id get a generated one and attempts without a
// timestamp inherit the session timestamp.
func (p *SessionPayload) Session(origin models.Origin, received time.Time) *models.Session {
	s := &models.Session{
		ID:              p.ID,
		Origin:          origin,
		Protocol:        strings.ToLower(p.Protocol),
		Timestamp:       p.Timestamp.Time,
		Received:        received.UTC(),
		SourceIP:        p.SourceIP,
		SourcePort:      p.SourcePort,
		DestinationIP:   p.DestinationIP,
		DestinationPort: p.DestinationPort,
		HoneypotID:      p.HoneypotID,
		Classification:  models.ClassPending,
		DidConnect:      p.DidConnect,
		DidLogin:        p.DidLogin,
		DidComplete:     p.DidComplete,
	}
	if origin == models.OriginBait {
		s.ClientID = p.ClientID
	}

	for _, a := range p.LoginAttempts {
		auth := models.Authentication{
			ID:         a.ID,
			Username:   a.Username,
			Password:   a.Password,
			Successful: a.Successful,
			Timestamp:  a.Timestamp.Time,
		}
		if auth.ID == "" {
			auth.ID = uuid.NewString()
		}
		if auth.Timestamp.IsZero() {
			auth.Timestamp = s.Timestamp
		}
		s.Authentication = append(s.Authentication, auth)
	}
	for _, l := range p.Transcript {
		ts := l.Timestamp.Time
		if ts.IsZero() {
			ts = s.Timestamp
		}
		s.Transcript = append(s.Transcript, models.TranscriptItem{Direction: l.Direction, Data: l.Data, Timestamp: ts})
	}
	for _, d := range p.SessionData {
		s.Data = append(s.Data, models.SessionData{Type: d.Type, Data: d.Data})
	}
	return s
}

// Decoder parses and validates JSON bodies received from drones and
// operators.
type Decoder struct {
	validate *validator.Validate
}

// NewDecoder builds a Decoder with the protocol registry wired into
// validation.
func NewDecoder() *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("protocol", func(fl validator.FieldLevel) bool {
		_, ok := models.Protocols[strings.ToLower(fl.Field().String())]
		return ok
	})
	return &Decoder{validate: v}
}

// DecodeSession parses a session payload reported by a drone of the given
// origin.
func (d *Decoder) DecodeSession(origin models.Origin, body []byte) (*SessionPayload, error) {
	var p SessionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if err := d.validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validate session: %w", flattenValidation(err))
	}
	if p.Timestamp.IsZero() {
		return nil, errors.New("validate session: timestamp is required")
	}
	if origin == models.OriginBait && p.ClientID == "" {
		return nil, errors.New("validate session: client_id is required for bait sessions")
	}
	return &p, nil
}

// DecodeDroneSettings parses the body of a CONFIG_DRONE command.
func (d *Decoder) DecodeDroneSettings(body []byte) (*DroneSettings, error) {
	var s DroneSettings
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decode drone settings: %w", err)
	}
	if err := d.validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("validate drone settings: %w", flattenValidation(err))
	}
	return &s, nil
}

func flattenValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
