package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/threadboard/internal/model"
)

// counterTable maps a counter to its table and value column. Names come from
// this fixed switch, never from input, so they are safe to splice into SQL.
func counterTable(c model.Counter) (table, column string, err error) {
	switch c {
	case model.CounterThreadViews:
		return "thread_views", "view_count", nil
	case model.CounterThreadReplies:
		return "thread_replies", "reply_count", nil
	}
	return "", "", fmt.Errorf("sqlstore: unknown counter %q", c)
}

func (db *DB) IncrementCounter(ctx context.Context, counter model.Counter, id int64, delta int64) error {
	table, column, err := counterTable(counter)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %[1]s (id, %[2]s) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET %[2]s = %[1]s.%[2]s + excluded.%[2]s`,
		table, column)

	if _, err := db.conn.ExecContext(ctx, db.q(query), id, delta); err != nil {
		return fmt.Errorf("sqlstore: incrementing %s for %d: %w", counter, id, err)
	}
	return nil
}

func (db *DB) GetCounter(ctx context.Context, counter model.Counter, id int64) (int64, bool, error) {
	table, column, err := counterTable(counter)
	if err != nil {
		return 0, false, err
	}

	var v int64
	err = db.conn.GetContext(ctx, &v,
		db.q(fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, column, table)), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sqlstore: reading %s for %d: %w", counter, id, err)
	}
	return v, true, nil
}
