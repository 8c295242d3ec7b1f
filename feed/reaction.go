package feed

import (
	"context"
	"fmt"
)

func reactionCondition(k TargetKind) (table, cond string) {
	table, col := reactionTable(k)
	return table, col + " = ? AND " + colUserID + " = ?"
}

// UpsertReaction replaces any reaction userID has on t with kind. The delete
// and insert share one unit of work; on backends without transactions a
// failed insert after a successful delete is reported, not masked.
func UpsertReaction(ctx context.Context, s Store, t Target, userID string, kind ReactionKind) (Reaction, error) {
	if kind == ReactionUnspecified {
		return Reaction{}, invalid("reaction", "unspecified reaction kind")
	}
	if userID == "" {
		return Reaction{}, invalid("user_id", "required")
	}

	r := Reaction{TargetID: t.ID, UserID: userID, Kind: kind}
	table, cond := reactionCondition(t.Kind)
	err := s.WithinTx(ctx, func(tx Store) error {
		if err := tx.Delete(ctx, table, cond, t.ID, userID); err != nil {
			return fmt.Errorf("delete previous reaction: %w", err)
		}
		if err := tx.Create(ctx, table, reactionRow(r, t.Kind)); err != nil {
			return fmt.Errorf("insert reaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Reaction{}, err
	}
	return r, nil
}

// RemoveReaction deletes the reaction userID has on t and reports whether
// one existed. Stores implementing DeleteCounter answer from the delete
// itself; others are read first.
func RemoveReaction(ctx context.Context, s Store, t Target, userID string) (bool, error) {
	table, cond := reactionCondition(t.Kind)
	_, col := reactionTable(t.Kind)

	var existed bool
	err := s.WithinTx(ctx, func(tx Store) error {
		if dc, ok := tx.(DeleteCounter); ok {
			n, err := dc.DeleteCount(ctx, table, cond, t.ID, userID)
			if err != nil {
				return fmt.Errorf("delete reaction: %w", err)
			}
			existed = n > 0
			return nil
		}

		rows, err := tx.ReadMany(ctx, table, Row{col: t.ID, colUserID: userID})
		if err != nil {
			return fmt.Errorf("read reaction: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		existed = true
		if err := tx.Delete(ctx, table, cond, t.ID, userID); err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}
