package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rsclarke/beehive/internal/models"
)

// CreateBaitUser stores a bait credential pair. Adding a pair that already
// exists is a no-op; created reports whether a new row was inserted.
func CreateBaitUser(d *sql.DB, username, password string) (id int64, created bool, err error) {
	res, err := d.Exec("INSERT OR IGNORE INTO bait_users (username, password) VALUES (?, ?)",
		username, password)
	if err != nil {
		return 0, false, fmt.Errorf("insert bait user: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err = res.LastInsertId()
		return id, true, err
	}

	err = d.QueryRow("SELECT id FROM bait_users WHERE username = ? AND password = ?",
		username, password).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("query bait user: %w", err)
	}
	return id, false, nil
}

// GetBaitUser returns the bait user with the given id, or nil if it does not
// exist.
func GetBaitUser(d *sql.DB, id int64) (*models.BaitUser, error) {
	var u models.BaitUser
	err := d.QueryRow("SELECT id, username, password FROM bait_users WHERE id = ?", id).
		Scan(&u.ID, &u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query bait user: %w", err)
	}
	return &u, nil
}

// ListBaitUsers returns every bait user ordered by id.
func ListBaitUsers(d *sql.DB) ([]models.BaitUser, error) {
	rows, err := d.Query("SELECT id, username, password FROM bait_users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query bait users: %w", err)
	}
	defer rows.Close()

	var users []models.BaitUser
	for rows.Next() {
		var u models.BaitUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Password); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteBaitUser removes a bait user. It reports false if no such user exists.
func DeleteBaitUser(d *sql.DB, id int64) (bool, error) {
	res, err := d.Exec("DELETE FROM bait_users WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete bait user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
