package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rsclarke/beehive/internal/models"
)

// ErrNotPending is returned when a state transition targets a session that
// has already been classified or no longer exists.
var ErrNotPending = errors.New("session is not pending")

// SessionFilter selects a subset of sessions for listing.
type SessionFilter string

const (
	SessionsAll     SessionFilter = "all"
	SessionsAttacks SessionFilter = "attacks"
	SessionsBait    SessionFilter = "bait"
)

const sessionColumns = `id, origin, protocol, timestamp, received, source_ip, source_port,
	destination_ip, destination_port, honeypot_id, client_id, classification,
	did_connect, did_login, did_complete`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*models.Session, error) {
	var s models.Session
	var origin string
	var ts, received int64
	var clientID sql.NullString
	var didConnect, didLogin, didComplete int
	err := r.Scan(&s.ID, &origin, &s.Protocol, &ts, &received, &s.SourceIP, &s.SourcePort,
		&s.DestinationIP, &s.DestinationPort, &s.HoneypotID, &clientID, &s.Classification,
		&didConnect, &didLogin, &didComplete)
	if err != nil {
		return nil, err
	}
	s.Origin = models.Origin(origin)
	s.Timestamp = fromMicros(ts)
	s.Received = fromMicros(received)
	s.ClientID = clientID.String
	s.DidConnect = didConnect != 0
	s.DidLogin = didLogin != 0
	s.DidComplete = didComplete != 0
	return &s, nil
}

// querySessions runs a session query and attaches authentication attempts to
// every row. Rows are fully drained before the follow-up queries run.
func querySessions(d *sql.DB, query string, args ...any) ([]models.Session, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var sessions []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range sessions {
		auths, err := GetAuthentications(d, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Authentication = auths
	}
	return sessions, nil
}

// CreateSession inserts a session with its authentication attempts,
// transcript and session data in a single transaction.
func CreateSession(d *sql.DB, s *models.Session) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var clientID any
	if s.ClientID != "" {
		clientID = s.ClientID
	}
	classification := s.Classification
	if classification == "" {
		classification = models.ClassPending
	}

	_, err = tx.Exec(`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, string(s.Origin), s.Protocol, toMicros(s.Timestamp), toMicros(s.Received),
		s.SourceIP, s.SourcePort, s.DestinationIP, s.DestinationPort, s.HoneypotID, clientID,
		classification, boolToInt(s.DidConnect), boolToInt(s.DidLogin), boolToInt(s.DidComplete))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, a := range s.Authentication {
		_, err := tx.Exec(`INSERT INTO authentications
			(session_id, seq, id, username, password, successful, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			s.ID, i, a.ID, a.Username, a.Password, boolToInt(a.Successful), toMicros(a.Timestamp))
		if err != nil {
			return fmt.Errorf("insert authentication: %w", err)
		}
	}

	for _, item := range s.Transcript {
		_, err := tx.Exec(`INSERT INTO transcripts (session_id, direction, data, timestamp)
			VALUES (?, ?, ?, ?)`, s.ID, item.Direction, item.Data, toMicros(item.Timestamp))
		if err != nil {
			return fmt.Errorf("insert transcript: %w", err)
		}
	}

	for _, sd := range s.Data {
		_, err := tx.Exec(`INSERT INTO session_data (session_id, type, data) VALUES (?, ?, ?)`,
			s.ID, sd.Type, sd.Data)
		if err != nil {
			return fmt.Errorf("insert session data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetSession returns the session with all of its children, or nil if it does
// not exist.
func GetSession(d *sql.DB, id string) (*models.Session, error) {
	s, err := scanSession(d.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	if s.Authentication, err = GetAuthentications(d, id); err != nil {
		return nil, err
	}
	if s.Transcript, err = GetTranscript(d, id); err != nil {
		return nil, err
	}
	if s.Data, err = getSessionData(d, id); err != nil {
		return nil, err
	}
	return s, nil
}

// SessionExists reports whether a session with the given id is stored.
func SessionExists(d *sql.DB, id string) (bool, error) {
	var n int
	err := d.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return n > 0, nil
}

// CountSessions returns the number of stored sessions.
func CountSessions(d *sql.DB) (int, error) {
	var n int
	if err := d.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// DeleteOldestSession removes the session with the earliest timestamp and
// returns its id. The returned id is empty when the store holds no sessions.
func DeleteOldestSession(d *sql.DB) (string, error) {
	var id string
	err := d.QueryRow("SELECT id FROM sessions ORDER BY timestamp ASC, id ASC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query oldest session: %w", err)
	}

	if _, err := d.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("delete session: %w", err)
	}
	return id, nil
}

// CandidateQuery describes the pending sessions a new session may correlate with.
type CandidateQuery struct {
	Origin     models.Origin
	Protocol   string
	HoneypotID string
	From       time.Time
	To         time.Time
	ExcludeID  string
}

// FindPendingCandidates returns pending sessions of the given origin, protocol
// and decoy whose timestamp lies in [From, To], with their authentication
// attempts loaded.
func FindPendingCandidates(d *sql.DB, q CandidateQuery) ([]models.Session, error) {
	return querySessions(d, `SELECT `+sessionColumns+` FROM sessions
		WHERE classification = ? AND origin = ? AND protocol = ? AND honeypot_id = ?
			AND timestamp BETWEEN ? AND ? AND id != ?
		ORDER BY timestamp ASC, id ASC`,
		models.ClassPending, string(q.Origin), q.Protocol, q.HoneypotID,
		toMicros(q.From), toMicros(q.To), q.ExcludeID)
}

// MergeSessions folds a pending decoy session into its pending bait
// counterpart. The bait session becomes a bait_session, takes over the decoy
// transcript and session data, and adopts the decoy's view of the source
// address. The decoy session is deleted. Returns ErrNotPending if either
// session is missing or already classified.
func MergeSessions(d *sql.DB, decoyID, baitID string) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sourceIP string
	err = tx.QueryRow(`SELECT source_ip FROM sessions
		WHERE id = ? AND origin = 'decoy' AND classification = ?`,
		decoyID, models.ClassPending).Scan(&sourceIP)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("decoy session %s: %w", decoyID, ErrNotPending)
	}
	if err != nil {
		return fmt.Errorf("query decoy session: %w", err)
	}

	res, err := tx.Exec(`UPDATE sessions SET classification = ?, source_ip = ?
		WHERE id = ? AND origin = 'bait' AND classification = ?`,
		models.ClassBaitSession, sourceIP, baitID, models.ClassPending)
	if err != nil {
		return fmt.Errorf("update bait session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("bait session %s: %w", baitID, ErrNotPending)
	}

	for _, table := range []string{"transcripts", "session_data"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_id = ?", baitID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		if _, err := tx.Exec("UPDATE "+table+" SET session_id = ? WHERE session_id = ?", baitID, decoyID); err != nil {
			return fmt.Errorf("move %s: %w", table, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", decoyID); err != nil {
		return fmt.Errorf("delete decoy session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// SetClassification moves a pending session to the given classification.
// It reports false if the session is not pending, leaving it untouched.
func SetClassification(d *sql.DB, id, classification string) (bool, error) {
	res, err := d.Exec("UPDATE sessions SET classification = ? WHERE id = ? AND classification = ?",
		classification, id, models.ClassPending)
	if err != nil {
		return false, fmt.Errorf("update classification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListStaleBaitSessions returns ids of pending, completed bait sessions
// received strictly before the cutoff.
func ListStaleBaitSessions(d *sql.DB, receivedBefore time.Time) ([]string, error) {
	rows, err := d.Query(`SELECT id FROM sessions
		WHERE origin = 'bait' AND classification = ? AND did_complete = 1 AND received < ?
		ORDER BY received ASC, id ASC`, models.ClassPending, toMicros(receivedBefore))
	if err != nil {
		return nil, fmt.Errorf("query stale bait sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListStaleDecoySessions returns pending decoy sessions whose timestamp is at
// or before the cutoff.
func ListStaleDecoySessions(d *sql.DB, notAfter time.Time) ([]models.Session, error) {
	return querySessions(d, `SELECT `+sessionColumns+` FROM sessions
		WHERE origin = 'decoy' AND classification = ? AND timestamp <= ?
		ORDER BY timestamp ASC, id ASC`, models.ClassPending, toMicros(notAfter))
}

// BaitCredentialUsed reports whether any bait session ever attempted a login
// with exactly this username and password.
func BaitCredentialUsed(d *sql.DB, username, password string) (bool, error) {
	var found int
	err := d.QueryRow(`SELECT EXISTS (
		SELECT 1 FROM authentications a
		JOIN sessions s ON s.id = a.session_id
		WHERE s.origin = 'bait' AND a.username = ? AND a.password = ?
	)`, username, password).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("query bait credentials: %w", err)
	}
	return found == 1, nil
}

// DeleteSessionsOlderThan deletes sessions with a timestamp before the cutoff.
// When baitSessions is true only bait_session rows are removed; otherwise
// every other classification is.
func DeleteSessionsOlderThan(d *sql.DB, cutoff time.Time, baitSessions bool) (int64, error) {
	op := "!="
	if baitSessions {
		op = "="
	}
	res, err := d.Exec("DELETE FROM sessions WHERE timestamp < ? AND classification "+op+" ?",
		toMicros(cutoff), models.ClassBaitSession)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeletePendingSessions removes every session still awaiting classification.
func DeletePendingSessions(d *sql.DB) (int64, error) {
	res, err := d.Exec("DELETE FROM sessions WHERE classification = ?", models.ClassPending)
	if err != nil {
		return 0, fmt.Errorf("delete pending sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllSessions removes every stored session.
func DeleteAllSessions(d *sql.DB) (int64, error) {
	res, err := d.Exec("DELETE FROM sessions")
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// ListSessions returns sessions matching the filter, newest first.
func ListSessions(d *sql.DB, filter SessionFilter) ([]models.Session, error) {
	var where string
	var args []any
	switch filter {
	case SessionsAll, "":
	case SessionsAttacks:
		where = "WHERE classification != ?"
		args = append(args, models.ClassBaitSession)
	case SessionsBait:
		where = "WHERE classification = ?"
		args = append(args, models.ClassBaitSession)
	default:
		return nil, fmt.Errorf("unknown session filter %q", filter)
	}
	return querySessions(d, strings.Join([]string{
		"SELECT", sessionColumns, "FROM sessions", where, "ORDER BY timestamp DESC, id ASC",
	}, " "), args...)
}

// GetAuthentications returns the login attempts of a session in the order
// they were reported.
func GetAuthentications(d *sql.DB, sessionID string) ([]models.Authentication, error) {
	rows, err := d.Query(`SELECT id, username, password, successful, timestamp
		FROM authentications WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query authentications: %w", err)
	}
	defer rows.Close()

	var auths []models.Authentication
	for rows.Next() {
		var a models.Authentication
		var successful int
		var ts int64
		if err := rows.Scan(&a.ID, &a.Username, &a.Password, &successful, &ts); err != nil {
			return nil, err
		}
		a.Successful = successful != 0
		a.Timestamp = fromMicros(ts)
		auths = append(auths, a)
	}
	return auths, rows.Err()
}

// GetTranscript returns the transcript of a session ordered by time.
func GetTranscript(d *sql.DB, sessionID string) ([]models.TranscriptItem, error) {
	rows, err := d.Query(`SELECT direction, data, timestamp FROM transcripts
		WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var items []models.TranscriptItem
	for rows.Next() {
		var item models.TranscriptItem
		var ts int64
		if err := rows.Scan(&item.Direction, &item.Data, &ts); err != nil {
			return nil, err
		}
		item.Timestamp = fromMicros(ts)
		items = append(items, item)
	}
	return items, rows.Err()
}

func getSessionData(d *sql.DB, sessionID string) ([]models.SessionData, error) {
	rows, err := d.Query("SELECT type, data FROM session_data WHERE session_id = ? ORDER BY id", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session data: %w", err)
	}
	defer rows.Close()

	var out []models.SessionData
	for rows.Next() {
		var sd models.SessionData
		if err := rows.Scan(&sd.Type, &sd.Data); err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}
