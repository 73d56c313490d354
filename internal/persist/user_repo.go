package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// UserRow is a durable user identity. SessionKeyHash is the bcrypt hash of
// the one-time key the login server issued for the current game session.
type UserRow struct {
	ID             int32
	Username       string
	Faction        int16
	SessionKeyHash string
	CreatedAt      time.Time
	LastActive     *time.Time
}

type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindByID returns the user or (nil, nil) when absent.
func (r *UserRepo) FindByID(ctx context.Context, id int32) (*UserRow, error) {
	row := &UserRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id, username, faction, COALESCE(session_key_hash,''), created_at, last_active
		 FROM users WHERE id = $1`, id,
	).Scan(&row.ID, &row.Username, &row.Faction, &row.SessionKeyHash, &row.CreatedAt, &row.LastActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateFaction durably records the user's faction choice.
func (r *UserRepo) UpdateFaction(ctx context.Context, id int32, faction int16) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET faction = $2 WHERE id = $1`,
		id, faction,
	)
	return err
}

// UpdateLastActive stamps the user's last activity.
func (r *UserRepo) UpdateLastActive(ctx context.Context, id int32) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_active = NOW() WHERE id = $1`,
		id,
	)
	return err
}

// VerifySessionKey checks a handshake session key against the stored hash.
func VerifySessionKey(hash string, key string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}
