package messages

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rsclarke/beehive/internal/models"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Envelope
		wantErr bool
	}{
		{"session", `SESSION_HONEYPOT hp1 {"id": "x"}`, Envelope{Type: SessionHoneypot, DroneID: "hp1", Body: []byte(`{"id": "x"}`)}, false},
		{"ping", "PING c1", Envelope{Type: Ping, DroneID: "c1"}, false},
		{"trailing newline", "PING c1\n", Envelope{Type: Ping, DroneID: "c1"}, false},
		{"missing id", "PING", Envelope{}, true},
		{"empty", "", Envelope{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEnvelope([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEnvelope(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got.Type != tt.want.Type || got.DroneID != tt.want.DroneID || string(got.Body) != string(tt.want.Body) {
				t.Errorf("ParseEnvelope(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRequestFields(t *testing.T) {
	req := ParseRequest([]byte(`CONFIG_DRONE d1 {"mode": "client", "name": "a b"}`))
	if req.Command != CmdConfigDrone {
		t.Fatalf("command = %q", req.Command)
	}
	fields := req.Fields(2)
	if len(fields) != 2 || fields[0] != "d1" || fields[1] != `{"mode": "client", "name": "a b"}` {
		t.Errorf("Fields(2) = %q", fields)
	}

	if got := ParseRequest([]byte("GET_DB_STATS")).Fields(2); got != nil {
		t.Errorf("expected no fields, got %q", got)
	}
	if got := string(NewRequest(CmdBaitUserAdd, "alice", "wonder").Bytes()); got != "BAIT_USER_ADD alice wonder" {
		t.Errorf("NewRequest bytes = %q", got)
	}
}

func TestReplyAndParseResponse(t *testing.T) {
	data, err := Reply(map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if string(data) != `OK {"n":1}` {
		t.Errorf("Reply = %q", data)
	}

	resp, err := ParseResponse(data)
	if err != nil || !resp.OK || string(resp.Payload) != `{"n":1}` {
		t.Errorf("ParseResponse(ok) = %+v, %v", resp, err)
	}

	resp, err = ParseResponse(Failure("unknown command"))
	if err != nil || resp.OK || string(resp.Payload) != "unknown command" {
		t.Errorf("ParseResponse(fail) = %+v, %v", resp, err)
	}

	if _, err := ParseResponse([]byte("MAYBE")); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestFormatMerge(t *testing.T) {
	if got := string(FormatMerge("d1", "b1")); got != "DELETED_DUE_TO_MERGE d1 b1" {
		t.Errorf("FormatMerge = %q", got)
	}
}

func TestFormatSession(t *testing.T) {
	s := &models.Session{ID: "s1", Origin: models.OriginDecoy, Classification: models.ClassProbe}
	data, err := FormatSession(s)
	if err != nil {
		t.Fatalf("FormatSession: %v", err)
	}
	body, ok := strings.CutPrefix(string(data), "SESSION ")
	if !ok {
		t.Fatalf("missing SESSION prefix: %q", data)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if decoded["classification"] != models.ClassProbe {
		t.Errorf("classification = %v", decoded["classification"])
	}
}

func TestTimestampFormats(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 250000000, time.UTC)
	for _, in := range []string{
		`"2024-03-01T12:00:00.250000"`,
		`"2024-03-01T12:00:00.25Z"`,
		`"2024-03-01T14:00:00.25+02:00"`,
	} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Errorf("Unmarshal(%s): %v", in, err)
			continue
		}
		if !ts.Equal(want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", in, ts.Time, want)
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for invalid timestamp")
	}

	out, _ := json.Marshal(Timestamp{want})
	if string(out) != `"2024-03-01T12:00:00.250000"` {
		t.Errorf("Marshal = %s", out)
	}
}

func validPayload() map[string]any {
	return map[string]any{
		"id":          "s1",
		"protocol":    "SSH",
		"timestamp":   "2024-03-01T12:00:00.000000",
		"source_ip":   "192.0.2.1",
		"source_port": 40000,
		"honeypot_id": "hp1",
		"login_attempts": []map[string]any{
			{"username": "root", "password": "toor", "successful": false},
			{"id": "a2", "timestamp": "2024-03-01T12:00:01.000000"},
		},
		"transcript": []map[string]any{
			{"direction": "in", "data": "ls", "timestamp": "2024-03-01T12:00:02.000000"},
		},
	}
}

func TestDecodeSession(t *testing.T) {
	dec := NewDecoder()

	tests := []struct {
		name    string
		origin  models.Origin
		mutate  func(map[string]any)
		wantErr string
	}{
		{"valid decoy", models.OriginDecoy, func(map[string]any) {}, ""},
		{"missing id", models.OriginDecoy, func(p map[string]any) { delete(p, "id") }, "id"},
		{"missing decoy id", models.OriginDecoy, func(p map[string]any) { delete(p, "honeypot_id") }, "honeypot_id"},
		{"missing timestamp", models.OriginDecoy, func(p map[string]any) { delete(p, "timestamp") }, "timestamp"},
		{"bad ip", models.OriginDecoy, func(p map[string]any) { p["source_ip"] = "not-an-ip" }, "source_ip"},
		{"bad port", models.OriginDecoy, func(p map[string]any) { p["source_port"] = 70000 }, "source_port"},
		{"bait without client", models.OriginBait, func(map[string]any) {}, "client_id"},
		{"bait with client", models.OriginBait, func(p map[string]any) { p["client_id"] = "c1" }, ""},
		{"bad direction", models.OriginDecoy, func(p map[string]any) {
			p["transcript"] = []map[string]any{{"direction": "sideways"}}
		}, "direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(p)
			body, _ := json.Marshal(p)

			_, err := dec.DecodeSession(tt.origin, body)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}

	if _, err := dec.DecodeSession(models.OriginDecoy, []byte("{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestPayloadSession(t *testing.T) {
	body, _ := json.Marshal(validPayload())
	p, err := NewDecoder().DecodeSession(models.OriginDecoy, body)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}

	received := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	s := p.Session(models.OriginDecoy, received)

	if s.Protocol != "ssh" {
		t.Errorf("protocol = %q, want lower-cased", s.Protocol)
	}
	if s.Classification != models.ClassPending || !s.Received.Equal(received) {
		t.Errorf("unexpected session: %+v", s)
	}
	if len(s.Authentication) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(s.Authentication))
	}
	if s.Authentication[0].ID == "" {
		t.Error("missing attempt id should be generated")
	}
	if !s.Authentication[0].Timestamp.Equal(s.Timestamp) {
		t.Error("attempt without timestamp should inherit the session timestamp")
	}
	if s.Authentication[1].ID != "a2" || s.Authentication[1].Username != "" {
		t.Errorf("unexpected second attempt: %+v", s.Authentication[1])
	}
	if len(s.Transcript) != 1 || s.Transcript[0].Data != "ls" {
		t.Errorf("unexpected transcript: %+v", s.Transcript)
	}
}

func TestDecodeDroneSettings(t *testing.T) {
	dec := NewDecoder()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"honeypot", `{"mode": "honeypot", "name": "edge", "capabilities": {"ssh": {"port": 2222}}}`, false},
		{"client", `{"mode": "client", "bait_timings": {"ftp": {"active_range": "08:00 - 17:00", "sleep_interval": 30, "activation_probability": 0.5}}}`, false},
		{"missing mode", `{"name": "edge"}`, true},
		{"bad mode", `{"mode": "router"}`, true},
		{"unknown protocol", `{"mode": "honeypot", "capabilities": {"gopher": {"port": 70}}}`, true},
		{"bad probability", `{"mode": "client", "bait_timings": {"ssh": {"activation_probability": 2}}}`, true},
		{"not json", `mode=client`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dec.DecodeDroneSettings([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeDroneSettings error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
