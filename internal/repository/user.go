package repository

import (
	"database/sql"
	"strings"
	"time"

	domain "github.com/flowmill/flowmill/pkg/flowmill/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = ` id, username, password, session_id, api_key, session_expiry, created, enabled `

func scanUser(scan func(...any) error) (*domain.User, error) {
	var u domain.User
	err := scan(
		&u.ID,
		&u.Username,
		&u.Password,
		&u.SessionID,
		&u.ApiKey,
		&u.SessionExpiry,
		&u.Created,
		&u.Enabled,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Save(u *domain.User) (int64, error) {
	vals := []interface{}{u.Username, u.Password, u.SessionID, u.ApiKey, formatDateInDatabaseNull(u.SessionExpiry), formatDateInDatabaseNull(u.Created), u.Enabled}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO users (username, password, session_id, api_key, session_expiry, created, enabled)
		VALUES (` + strings.Join(pps, ", ") + `)`
	if supportsReturning() {
		query := base + " RETURNING id"
		if err := r.db.QueryRow(query, vals...).Scan(&u.ID); err != nil {
			return 0, err
		}
		return u.ID, nil
	}
	res, err := r.db.Exec(base, vals...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	u.ID = id
	return id, nil
}

func (r *UserRepository) FindByUsername(username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ` + placeholder(1)
	return scanUser(func(dest ...any) error {
		return r.db.QueryRow(query, username).Scan(dest...)
	})
}

func (r *UserRepository) FindByApiKey(apiKey string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE api_key = ` + placeholder(1) + ` AND enabled = ` + placeholder(2)
	return scanUser(func(dest ...any) error {
		return r.db.QueryRow(query, apiKey, true).Scan(dest...)
	})
}

func (r *UserRepository) FindBySessionID(sessionID string, now time.Time) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE session_id = ` + placeholder(1) + ` AND session_expiry > ` + placeholder(2)
	return scanUser(func(dest ...any) error {
		return r.db.QueryRow(query, sessionID, formatDateInDatabase(now)).Scan(dest...)
	})
}

func (r *UserRepository) UpdateSession(userID int64, sessionID string, expiry time.Time) error {
	query := `UPDATE users SET session_id = ` + placeholder(1) + `, session_expiry = ` + placeholder(2) + ` WHERE id = ` + placeholder(3)
	_, err := r.db.Exec(query, sessionID, formatDateInDatabase(expiry), userID)
	return err
}

func (r *UserRepository) CountUsers() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(1) FROM users`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *UserRepository) FindAll() (*[]domain.User, error) {
	rows, err := r.db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return &users, rows.Err()
}
