package db

import (
	"database/sql"
	"fmt"

	"github.com/rsclarke/beehive/internal/models"
)

// Stats is an aggregate snapshot of the store.
type Stats struct {
	Honeypots         int
	Clients           int
	Sessions          int
	BaitSessions      int
	Attacks           int
	AttacksByProtocol map[string]int
	BaitSuccessful    int
	BaitFailed        int
	Classifications   map[string]int
}

// GetStats computes drone, session and attack counts.
func GetStats(d *sql.DB) (*Stats, error) {
	st := &Stats{
		AttacksByProtocol: make(map[string]int),
		Classifications:   make(map[string]int),
	}

	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&st.Honeypots, "SELECT COUNT(*) FROM drones WHERE type = ?", []any{string(models.DroneHoneypot)}},
		{&st.Clients, "SELECT COUNT(*) FROM drones WHERE type = ?", []any{string(models.DroneClient)}},
		{&st.Sessions, "SELECT COUNT(*) FROM sessions", nil},
		{&st.BaitSessions, "SELECT COUNT(*) FROM sessions WHERE origin = 'bait'", nil},
		{&st.Attacks, "SELECT COUNT(*) FROM sessions WHERE classification != ?", []any{models.ClassBaitSession}},
		{&st.BaitSuccessful, "SELECT COUNT(*) FROM sessions WHERE origin = 'bait' AND did_login = 1", nil},
		{&st.BaitFailed, "SELECT COUNT(*) FROM sessions WHERE origin = 'bait' AND did_login = 0", nil},
	}
	for _, c := range counts {
		if err := d.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
	}

	if err := groupCounts(d, st.AttacksByProtocol,
		"SELECT protocol, COUNT(*) FROM sessions WHERE classification != ? GROUP BY protocol",
		models.ClassBaitSession); err != nil {
		return nil, err
	}
	for proto := range models.Protocols {
		if _, ok := st.AttacksByProtocol[proto]; !ok {
			st.AttacksByProtocol[proto] = 0
		}
	}

	if err := groupCounts(d, st.Classifications,
		"SELECT classification, COUNT(*) FROM sessions GROUP BY classification"); err != nil {
		return nil, err
	}

	return st, nil
}

func groupCounts(d *sql.DB, out map[string]int, query string, args ...any) error {
	rows, err := d.Query(query, args...)
	if err != nil {
		return fmt.Errorf("group counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		out[key] = n
	}
	return rows.Err()
}
