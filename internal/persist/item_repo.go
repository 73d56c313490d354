package persist

import (
	"context"
)

// ItemRow represents a persisted inventory item. Bag 0 holds equipped items.
type ItemRow struct {
	ID     int64
	CharID int32
	TypeID int32
	Bag    int16
	Slot   int16
	Count  int32
}

// SlotMove records one item's new location for a best-effort write-back
// after an in-memory move commits.
type SlotMove struct {
	ItemID int64
	Bag    int16
	Slot   int16
}

type ItemRepo struct {
	db *DB
}

func NewItemRepo(db *DB) *ItemRepo {
	return &ItemRepo{db: db}
}

// Insert stores a new item row and fills in its generated id.
func (r *ItemRepo) Insert(ctx context.Context, it *ItemRow) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO character_items (char_id, type_id, bag, slot, count)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		it.CharID, it.TypeID, it.Bag, it.Slot, it.Count,
	).Scan(&it.ID)
}

// LoadByCharID returns all items belonging to a character.
func (r *ItemRepo) LoadByCharID(ctx context.Context, charID int32) ([]ItemRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id, char_id, type_id, bag, slot, count
		 FROM character_items WHERE char_id = $1`, charID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ItemRow
	for rows.Next() {
		var it ItemRow
		if err := rows.Scan(&it.ID, &it.CharID, &it.TypeID, &it.Bag, &it.Slot, &it.Count); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// UpdateSlots rewrites the (bag, slot) of the moved items in one
// transaction, so a swap never half-lands in the store. The slot uniqueness
// constraint is deferred to commit; a swap's first update parks the
// displaced item on a (bag, slot) the second update only then vacates.
func (r *ItemRepo) UpdateSlots(ctx context.Context, charID int32, moves []SlotMove) error {
	if len(moves) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, m := range moves {
		if _, err := tx.Exec(ctx,
			`UPDATE character_items SET bag = $3, slot = $4 WHERE id = $1 AND char_id = $2`,
			m.ItemID, charID, m.Bag, m.Slot,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
