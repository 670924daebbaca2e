package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath         string        `json:"db_path"`
	DBSizeBytes    int64         `json:"db_size_bytes"`
	Memories       int           `json:"memories"`
	Users          int           `json:"users"`
	Sessions       int           `json:"sessions"`
	Messages       int           `json:"messages"`
	Operations     int           `json:"operations"`
	Checkpoints    int           `json:"checkpoints"`
	HistoryEntries int           `json:"history_entries"`
	ByStatus       []StatusCount `json:"sessions_by_status"`
}

// StatusCount counts sessions in one status.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Stats returns row counts for every table and the database file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	for _, c := range []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM memories`, &st.Memories},
		{`SELECT COUNT(DISTINCT user_id) FROM memories`, &st.Users},
		{`SELECT COUNT(*) FROM sessions`, &st.Sessions},
		{`SELECT COUNT(*) FROM session_messages`, &st.Messages},
		{`SELECT COUNT(*) FROM operations`, &st.Operations},
		{`SELECT COUNT(*) FROM operation_checkpoints`, &st.Checkpoints},
		{`SELECT COUNT(*) FROM operation_history`, &st.HistoryEntries},
	} {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return st, storageErr("stats", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) AS cnt FROM sessions
		GROUP BY status ORDER BY cnt DESC, status`)
	if err != nil {
		return st, storageErr("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc StatusCount
		if err := rows.Scan(&sc.Status, &sc.Count); err != nil {
			return st, storageErr("stats", err)
		}
		st.ByStatus = append(st.ByStatus, sc)
	}
	return st, rows.Err()
}
