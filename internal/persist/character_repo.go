package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

type CharacterRow struct {
	ID     int32
	UserID int32
	Name   string
	Race   int16
	Mode   int16
	Hair   int16
	Face   int16
	Height int16
	Class  int16
	Gender int16
	Level  int16
	Slot   int16
	MapID  int32
	PosX   float32
	PosY   float32
	PosZ   float32
	Angle  float32
	CreatedAt time.Time
	DeletedAt *time.Time
}

type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

const characterColumns = `id, user_id, name, race, mode, hair, face, height,
	class, gender, level, slot, map_id, pos_x, pos_y, pos_z, angle, created_at, deleted_at`

func scanCharacter(row pgx.Row) (*CharacterRow, error) {
	c := &CharacterRow{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.Race, &c.Mode, &c.Hair, &c.Face, &c.Height,
		&c.Class, &c.Gender, &c.Level, &c.Slot, &c.MapID,
		&c.PosX, &c.PosY, &c.PosZ, &c.Angle, &c.CreatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindByID returns the character or (nil, nil) when absent.
func (r *CharacterRepo) FindByID(ctx context.Context, id int32) (*CharacterRow, error) {
	c, err := scanCharacter(r.db.Pool.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1 AND deleted_at IS NULL`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// NameExists reports whether any character in the system holds the name.
func (r *CharacterRepo) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM characters WHERE name = $1 AND deleted_at IS NULL)`, name,
	).Scan(&exists)
	return exists, err
}

// ListByUser returns the user's characters ordered by slot.
func (r *CharacterRepo) ListByUser(ctx context.Context, userID int32) ([]CharacterRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE user_id = $1 AND deleted_at IS NULL
		 ORDER BY slot`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []CharacterRow
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// Create inserts a new character and fills in its id.
func (r *CharacterRepo) Create(ctx context.Context, c *CharacterRow) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO characters (
			user_id, name, race, mode, hair, face, height,
			class, gender, level, slot, map_id, pos_x, pos_y, pos_z, angle
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
		) RETURNING id`,
		c.UserID, c.Name, c.Race, c.Mode, c.Hair, c.Face, c.Height,
		c.Class, c.Gender, c.Level, c.Slot, c.MapID, c.PosX, c.PosY, c.PosZ, c.Angle,
	).Scan(&c.ID)
}

// SoftDelete marks a character deleted. Uniqueness on name and slot binds
// live rows only, so both free up immediately.
func (r *CharacterRepo) SoftDelete(ctx context.Context, id int32) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE characters SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id,
	)
	return err
}

// SavePosition stores the character's last position, called on logout.
func (r *CharacterRepo) SavePosition(ctx context.Context, id int32, mapID int32, x, y, z, angle float32) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE characters SET map_id = $2, pos_x = $3, pos_y = $4, pos_z = $5, angle = $6
		 WHERE id = $1`,
		id, mapID, x, y, z, angle,
	)
	return err
}
