package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/beehive/internal/models"
)

// DroneFilter selects drones for listing. Besides the constants below any
// drone type value filters by that type.
type DroneFilter string

const (
	DronesAll        DroneFilter = "all"
	DronesUnassigned DroneFilter = "unassigned"
)

const droneColumns = `id, name, type, ip_address, certificate, certificate_info,
	bait_timings, last_activity, created_at`

func scanDrone(r rowScanner) (*models.Drone, error) {
	var dr models.Drone
	var droneType, certInfo, timings string
	var lastActivity, createdAt int64
	err := r.Scan(&dr.ID, &dr.Name, &droneType, &dr.IPAddress, &dr.Certificate,
		&certInfo, &timings, &lastActivity, &createdAt)
	if err != nil {
		return nil, err
	}
	dr.Type = models.DroneType(droneType)
	dr.LastActivity = fromMicros(lastActivity)
	dr.CreatedAt = fromMicros(createdAt)
	if err := json.Unmarshal([]byte(certInfo), &dr.CertificateInfo); err != nil {
		return nil, fmt.Errorf("decode certificate info: %w", err)
	}
	if err := json.Unmarshal([]byte(timings), &dr.BaitTimings); err != nil {
		return nil, fmt.Errorf("decode bait timings: %w", err)
	}
	return &dr, nil
}

// CreateDrone registers a new unassigned drone.
func CreateDrone(d *sql.DB, id string, createdAt time.Time) error {
	_, err := d.Exec("INSERT INTO drones (id, created_at) VALUES (?, ?)", id, toMicros(createdAt))
	if err != nil {
		return fmt.Errorf("insert drone: %w", err)
	}
	return nil
}

// GetDrone returns the drone with the given id, or nil if it does not exist.
func GetDrone(d *sql.DB, id string) (*models.Drone, error) {
	dr, err := scanDrone(d.QueryRow("SELECT "+droneColumns+" FROM drones WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query drone: %w", err)
	}
	return dr, nil
}

// ListDrones returns drones matching the filter ordered by creation time.
func ListDrones(d *sql.DB, filter DroneFilter) ([]models.Drone, error) {
	query := "SELECT " + droneColumns + " FROM drones"
	var args []any
	switch filter {
	case DronesAll, "":
	case DronesUnassigned:
		query += " WHERE type = ''"
	default:
		query += " WHERE type = ?"
		args = append(args, string(filter))
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query drones: %w", err)
	}
	defer rows.Close()

	var drones []models.Drone
	for rows.Next() {
		dr, err := scanDrone(rows)
		if err != nil {
			return nil, err
		}
		drones = append(drones, *dr)
	}
	return drones, rows.Err()
}

// DeleteDrone removes a drone and everything that references it. It reports
// false if no such drone exists.
func DeleteDrone(d *sql.DB, id string) (bool, error) {
	res, err := d.Exec("DELETE FROM drones WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete drone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TouchDrone records activity from a drone. It reports false if the drone is
// unknown.
func TouchDrone(d *sql.DB, id string, at time.Time) (bool, error) {
	return updateDroneField(d, id, "last_activity", toMicros(at))
}

// SetDroneIP records the address a drone reported for itself.
func SetDroneIP(d *sql.DB, id, ip string) (bool, error) {
	return updateDroneField(d, id, "ip_address", ip)
}

// SetDroneCertificate stores the PEM certificate a drone reported.
func SetDroneCertificate(d *sql.DB, id, pem string) (bool, error) {
	return updateDroneField(d, id, "certificate", pem)
}

func updateDroneField(d *sql.DB, id, column string, value any) (bool, error) {
	res, err := d.Exec("UPDATE drones SET "+column+" = ? WHERE id = ?", value, id)
	if err != nil {
		return false, fmt.Errorf("update drone %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ConfigureDrone assigns a role to a drone and replaces its capabilities.
// Existing capabilities and the edges hanging off them are dropped.
func ConfigureDrone(d *sql.DB, dr *models.Drone, caps []models.Capability) error {
	certInfo, err := json.Marshal(nonNilMap(dr.CertificateInfo))
	if err != nil {
		return fmt.Errorf("encode certificate info: %w", err)
	}
	timings, err := json.Marshal(nonNilMap(dr.BaitTimings))
	if err != nil {
		return fmt.Errorf("encode bait timings: %w", err)
	}

	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE drones SET name = ?, type = ?, certificate_info = ?, bait_timings = ?
		WHERE id = ?`, dr.Name, string(dr.Type), string(certInfo), string(timings), dr.ID)
	if err != nil {
		return fmt.Errorf("update drone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("drone %s not found", dr.ID)
	}

	if _, err := tx.Exec("DELETE FROM capabilities WHERE honeypot_id = ?", dr.ID); err != nil {
		return fmt.Errorf("clear capabilities: %w", err)
	}
	// A drone switching away from the client role keeps no bait edges.
	if dr.Type != models.DroneClient {
		if _, err := tx.Exec("DELETE FROM drone_edges WHERE client_id = ?", dr.ID); err != nil {
			return fmt.Errorf("clear edges: %w", err)
		}
	}

	for _, c := range caps {
		data, err := json.Marshal(nonNilMap(c.ProtocolData))
		if err != nil {
			return fmt.Errorf("encode protocol data: %w", err)
		}
		_, err = tx.Exec(`INSERT INTO capabilities (honeypot_id, protocol, port, protocol_data)
			VALUES (?, ?, ?, ?)`, dr.ID, c.Protocol, c.Port, string(data))
		if err != nil {
			return fmt.Errorf("insert capability: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListCapabilities returns the capabilities of a honeypot drone.
func ListCapabilities(d *sql.DB, honeypotID string) ([]models.Capability, error) {
	rows, err := d.Query(`SELECT id, honeypot_id, protocol, port, protocol_data
		FROM capabilities WHERE honeypot_id = ? ORDER BY protocol`, honeypotID)
	if err != nil {
		return nil, fmt.Errorf("query capabilities: %w", err)
	}
	defer rows.Close()

	var caps []models.Capability
	for rows.Next() {
		var c models.Capability
		var data string
		if err := rows.Scan(&c.ID, &c.HoneypotID, &c.Protocol, &c.Port, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &c.ProtocolData); err != nil {
			return nil, fmt.Errorf("decode protocol data: %w", err)
		}
		caps = append(caps, c)
	}
	return caps, rows.Err()
}

// ReplaceEdges swaps the full set of bait edges for the given one.
func ReplaceEdges(d *sql.DB, edges []models.DroneEdge) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM drone_edges"); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	for _, e := range edges {
		_, err := tx.Exec(`INSERT INTO drone_edges
			(client_id, capability_id, username, password, activation_range, sleep_interval, activation_probability)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ClientID, e.CapabilityID, e.Username, e.Password,
			e.Timing.ActiveRange, e.Timing.SleepInterval, e.Timing.ActivationProbability)
		if err != nil {
			return fmt.Errorf("insert edge: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const edgeQuery = `SELECT e.id, e.client_id, e.capability_id, e.username, e.password,
	e.activation_range, e.sleep_interval, e.activation_probability,
	c.protocol, c.port, c.honeypot_id, h.ip_address
	FROM drone_edges e
	JOIN capabilities c ON c.id = e.capability_id
	JOIN drones h ON h.id = c.honeypot_id`

// ListEdgesByClient returns the baits a client drone should run.
func ListEdgesByClient(d *sql.DB, clientID string) ([]models.DroneEdge, error) {
	return queryEdges(d, edgeQuery+" WHERE e.client_id = ? ORDER BY c.honeypot_id, c.protocol", clientID)
}

// ListEdgesByCapability returns the edges pointing at one honeypot capability.
func ListEdgesByCapability(d *sql.DB, capabilityID int64) ([]models.DroneEdge, error) {
	return queryEdges(d, edgeQuery+" WHERE e.capability_id = ? ORDER BY e.id", capabilityID)
}

func queryEdges(d *sql.DB, query string, args ...any) ([]models.DroneEdge, error) {
	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []models.DroneEdge
	for rows.Next() {
		var e models.DroneEdge
		err := rows.Scan(&e.ID, &e.ClientID, &e.CapabilityID, &e.Username, &e.Password,
			&e.Timing.ActiveRange, &e.Timing.SleepInterval, &e.Timing.ActivationProbability,
			&e.Protocol, &e.Port, &e.HoneypotID, &e.HoneypotIP)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EdgeUsesCredentials reports whether any edge hands out this credential pair.
func EdgeUsesCredentials(d *sql.DB, username, password string) (bool, error) {
	var found int
	err := d.QueryRow(`SELECT EXISTS (
		SELECT 1 FROM drone_edges WHERE username = ? AND password = ?
	)`, username, password).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("query edges: %w", err)
	}
	return found == 1, nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}
