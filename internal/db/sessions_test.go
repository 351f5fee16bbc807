package db

import (
	"errors"
	"testing"
	"time"

	"github.com/rsclarke/beehive/internal/models"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreateAndGetSession(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)
	createTestDrone(t, db, "c1", models.DroneClient)

	s := testSession("s1", models.OriginBait, "hp1", base.Add(123456*time.Microsecond))
	s.ClientID = "c1"
	s.DidComplete = true
	s.Transcript = []models.TranscriptItem{
		{Direction: "out", Data: "SSH-2.0", Timestamp: base},
		{Direction: "in", Data: "SSH-2.0-OpenSSH", Timestamp: base.Add(time.Second)},
	}
	s.Data = []models.SessionData{{Type: "banner", Data: "hello"}}
	if err := CreateSession(db, s); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := GetSession(db, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if !got.Timestamp.Equal(s.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, s.Timestamp)
	}
	if got.Origin != models.OriginBait || got.ClientID != "c1" || !got.DidComplete {
		t.Errorf("unexpected session fields: %+v", got)
	}
	if got.Classification != models.ClassPending {
		t.Errorf("classification = %q, want pending", got.Classification)
	}
	if len(got.Authentication) != 1 || got.Authentication[0].Username != "root" {
		t.Errorf("unexpected authentication: %+v", got.Authentication)
	}
	if len(got.Transcript) != 2 || got.Transcript[1].Data != "SSH-2.0-OpenSSH" {
		t.Errorf("unexpected transcript: %+v", got.Transcript)
	}
	if len(got.Data) != 1 || got.Data[0].Type != "banner" {
		t.Errorf("unexpected session data: %+v", got.Data)
	}

	missing, err := GetSession(db, "nope")
	if err != nil {
		t.Fatalf("GetSession(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing session, got %+v", missing)
	}
}

func TestCreateSessionDuplicateID(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	if err := CreateSession(db, testSession("s1", models.OriginDecoy, "hp1", base)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := CreateSession(db, testSession("s1", models.OriginDecoy, "hp1", base)); err == nil {
		t.Error("expected error for duplicate session id")
	}

	n, err := CountSessions(db)
	if err != nil {
		t.Fatalf("CountSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("CountSessions = %d, want 1", n)
	}
}

func TestFindPendingCandidates(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)
	createTestDrone(t, db, "hp2", models.DroneHoneypot)

	sessions := []*models.Session{
		testSession("in-window", models.OriginDecoy, "hp1", base.Add(5*time.Second)),
		testSession("too-late", models.OriginDecoy, "hp1", base.Add(5*time.Second+time.Microsecond)),
		testSession("other-decoy", models.OriginDecoy, "hp2", base),
		testSession("bait", models.OriginBait, "hp1", base),
	}
	other := testSession("other-proto", models.OriginDecoy, "hp1", base)
	other.Protocol = "ftp"
	sessions = append(sessions, other)

	for _, s := range sessions {
		if err := CreateSession(db, s); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.ID, err)
		}
	}

	got, err := FindPendingCandidates(db, CandidateQuery{
		Origin:     models.OriginDecoy,
		Protocol:   "ssh",
		HoneypotID: "hp1",
		From:       base.Add(-5 * time.Second),
		To:         base.Add(5 * time.Second),
		ExcludeID:  "bait",
	})
	if err != nil {
		t.Fatalf("FindPendingCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "in-window" {
		t.Fatalf("expected only in-window candidate, got %+v", got)
	}
	if len(got[0].Authentication) != 1 {
		t.Errorf("expected authentication to be loaded, got %+v", got[0].Authentication)
	}
}

func TestMergeSessions(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	decoy := testSession("d1", models.OriginDecoy, "hp1", base)
	decoy.SourceIP = "198.51.100.7"
	decoy.Transcript = []models.TranscriptItem{{Direction: "in", Data: "ls", Timestamp: base}}
	bait := testSession("b1", models.OriginBait, "hp1", base.Add(3*time.Second))

	for _, s := range []*models.Session{decoy, bait} {
		if err := CreateSession(db, s); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.ID, err)
		}
	}

	if err := MergeSessions(db, "d1", "b1"); err != nil {
		t.Fatalf("MergeSessions: %v", err)
	}

	if s, _ := GetSession(db, "d1"); s != nil {
		t.Error("decoy session should be deleted after merge")
	}
	got, err := GetSession(db, "b1")
	if err != nil || got == nil {
		t.Fatalf("GetSession(b1): %v", err)
	}
	if got.Classification != models.ClassBaitSession {
		t.Errorf("classification = %q, want bait_session", got.Classification)
	}
	if got.SourceIP != "198.51.100.7" {
		t.Errorf("source ip = %q, want decoy source ip", got.SourceIP)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Data != "ls" {
		t.Errorf("transcript not moved: %+v", got.Transcript)
	}

	if err := MergeSessions(db, "d1", "b1"); !errors.Is(err, ErrNotPending) {
		t.Errorf("second merge error = %v, want ErrNotPending", err)
	}
}

func TestSetClassificationOnlyFromPending(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	if err := CreateSession(db, testSession("s1", models.OriginDecoy, "hp1", base)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ok, err := SetClassification(db, "s1", models.ClassProbe)
	if err != nil || !ok {
		t.Fatalf("first SetClassification = %v, %v", ok, err)
	}
	ok, err = SetClassification(db, "s1", models.ClassBruteforce)
	if err != nil {
		t.Fatalf("second SetClassification: %v", err)
	}
	if ok {
		t.Error("classified session must not be reclassified")
	}

	got, _ := GetSession(db, "s1")
	if got.Classification != models.ClassProbe {
		t.Errorf("classification = %q, want probe", got.Classification)
	}
}

func TestStaleSessionQueries(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	oldBait := testSession("old-bait", models.OriginBait, "hp1", base)
	oldBait.DidComplete = true
	incomplete := testSession("incomplete", models.OriginBait, "hp1", base)
	freshBait := testSession("fresh-bait", models.OriginBait, "hp1", base)
	freshBait.DidComplete = true
	freshBait.Received = base.Add(time.Minute)
	oldDecoy := testSession("old-decoy", models.OriginDecoy, "hp1", base)
	newDecoy := testSession("new-decoy", models.OriginDecoy, "hp1", base.Add(time.Minute))

	for _, s := range []*models.Session{oldBait, incomplete, freshBait, oldDecoy, newDecoy} {
		if err := CreateSession(db, s); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.ID, err)
		}
	}

	ids, err := ListStaleBaitSessions(db, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("ListStaleBaitSessions: %v", err)
	}
	if len(ids) != 1 || ids[0] != "old-bait" {
		t.Errorf("stale bait = %v, want [old-bait]", ids)
	}

	decoys, err := ListStaleDecoySessions(db, base)
	if err != nil {
		t.Fatalf("ListStaleDecoySessions: %v", err)
	}
	if len(decoys) != 1 || decoys[0].ID != "old-decoy" {
		t.Errorf("stale decoys = %+v, want [old-decoy]", decoys)
	}
}

func TestBaitCredentialUsed(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	bait := testSession("b1", models.OriginBait, "hp1", base)
	bait.Authentication[0].Username = "alice"
	bait.Authentication[0].Password = "wonder"
	if err := CreateSession(db, bait); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := CreateSession(db, testSession("d1", models.OriginDecoy, "hp1", base)); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	tests := []struct {
		username, password string
		want               bool
	}{
		{"alice", "wonder", true},
		{"alice", "Wonder", false},
		{"root", "toor", false},
	}
	for _, tt := range tests {
		got, err := BaitCredentialUsed(db, tt.username, tt.password)
		if err != nil {
			t.Fatalf("BaitCredentialUsed: %v", err)
		}
		if got != tt.want {
			t.Errorf("BaitCredentialUsed(%q, %q) = %v, want %v", tt.username, tt.password, got, tt.want)
		}
	}
}

func TestDeleteSessionsOlderThan(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	seed := []struct {
		id             string
		age            time.Duration
		classification string
	}{
		{"old-bait", 72 * time.Hour, models.ClassBaitSession},
		{"new-bait", time.Hour, models.ClassBaitSession},
		{"old-attack", 72 * time.Hour, models.ClassBruteforce},
		{"new-attack", time.Hour, models.ClassProbe},
	}
	for _, s := range seed {
		sess := testSession(s.id, models.OriginDecoy, "hp1", base.Add(-s.age))
		sess.Classification = s.classification
		if err := CreateSession(db, sess); err != nil {
			t.Fatalf("CreateSession(%s): %v", s.id, err)
		}
	}

	n, err := DeleteSessionsOlderThan(db, base.Add(-48*time.Hour), true)
	if err != nil || n != 1 {
		t.Fatalf("delete bait = %d, %v; want 1", n, err)
	}
	n, err = DeleteSessionsOlderThan(db, base.Add(-48*time.Hour), false)
	if err != nil || n != 1 {
		t.Fatalf("delete malicious = %d, %v; want 1", n, err)
	}

	for _, id := range []string{"new-bait", "new-attack"} {
		if ok, _ := SessionExists(db, id); !ok {
			t.Errorf("session %s should survive", id)
		}
	}
}

func TestDeleteOldestSession(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	id, err := DeleteOldestSession(db)
	if err != nil || id != "" {
		t.Fatalf("empty store: got %q, %v", id, err)
	}

	for i, name := range []string{"s2", "s1", "s3"} {
		ts := base.Add(time.Duration(i) * time.Second)
		if name == "s1" {
			ts = base.Add(-time.Second)
		}
		if err := CreateSession(db, testSession(name, models.OriginDecoy, "hp1", ts)); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	id, err = DeleteOldestSession(db)
	if err != nil {
		t.Fatalf("DeleteOldestSession: %v", err)
	}
	if id != "s1" {
		t.Errorf("evicted %q, want s1", id)
	}
}

func TestListSessionsFilters(t *testing.T) {
	db := openTestDB(t)
	createTestDrone(t, db, "hp1", models.DroneHoneypot)

	for i, c := range []string{models.ClassBaitSession, models.ClassProbe, models.ClassPending} {
		s := testSession(c, models.OriginDecoy, "hp1", base.Add(time.Duration(i)*time.Second))
		s.Classification = c
		if err := CreateSession(db, s); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
	}

	tests := []struct {
		filter SessionFilter
		want   []string
	}{
		{SessionsAll, []string{models.ClassPending, models.ClassProbe, models.ClassBaitSession}},
		{SessionsAttacks, []string{models.ClassPending, models.ClassProbe}},
		{SessionsBait, []string{models.ClassBaitSession}},
	}
	for _, tt := range tests {
		t.Run(string(tt.filter), func(t *testing.T) {
			got, err := ListSessions(db, tt.filter)
			if err != nil {
				t.Fatalf("ListSessions: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d sessions, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("row %d = %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}

	if _, err := ListSessions(db, "bogus"); err == nil {
		t.Error("expected error for unknown filter")
	}
}
