package persist

import (
	"context"
)

// SkillRow is one learned skill, unique per character per skill id.
type SkillRow struct {
	CharID  int32
	SkillID int16
	Level   int16
}

type SkillRepo struct {
	db *DB
}

func NewSkillRepo(db *DB) *SkillRepo {
	return &SkillRepo{db: db}
}

// LoadByCharID returns all skills learned by a character.
func (r *SkillRepo) LoadByCharID(ctx context.Context, charID int32) ([]SkillRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT char_id, skill_id, level FROM character_skills WHERE char_id = $1`, charID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SkillRow
	for rows.Next() {
		var sk SkillRow
		if err := rows.Scan(&sk.CharID, &sk.SkillID, &sk.Level); err != nil {
			return nil, err
		}
		result = append(result, sk)
	}
	return result, rows.Err()
}

// SaveSkill upserts a learned skill. Racing learns of the same skill
// converge on the higher level.
func (r *SkillRepo) SaveSkill(ctx context.Context, charID int32, skillID uint16, level byte) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO character_skills (char_id, skill_id, level)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (char_id, skill_id)
		 DO UPDATE SET level = GREATEST(character_skills.level, EXCLUDED.level)`,
		charID, int16(skillID), int16(level),
	)
	return err
}
