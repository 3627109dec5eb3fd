package store

import (
	"context"
	"strings"
)

func (s *Store) AddEvent(ctx context.Context, ev Event) (Event, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO events (user_id, title, location, attendees, start_at, end_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.UserID, ev.Title, ev.Location, ev.Attendees, unix(ev.Start), unix(ev.End))
	if err != nil {
		return Event{}, err
	}
	if ev.ID, err = res.LastInsertId(); err != nil {
		return Event{}, err
	}
	ev.Start, ev.End = fromUnix(unix(ev.Start)), fromUnix(unix(ev.End))
	return ev, nil
}

// FindEvents returns a user's events matching f, ordered by start time.
// Title matches case-insensitively on a substring; From and To bound the
// start time inclusively.
func (s *Store) FindEvents(ctx context.Context, userID string, f EventFilter) ([]Event, error) {
	var (
		b    strings.Builder
		args = []any{userID}
	)
	b.WriteString(`SELECT id, user_id, title, location, attendees, start_at, end_at FROM events WHERE user_id = ?`)
	if f.ID != 0 {
		b.WriteString(` AND id = ?`)
		args = append(args, f.ID)
	}
	if f.Title != "" {
		b.WriteString(` AND LOWER(title) LIKE ?`)
		args = append(args, "%"+strings.ToLower(f.Title)+"%")
	}
	if !f.From.IsZero() {
		b.WriteString(` AND start_at >= ?`)
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		b.WriteString(` AND start_at <= ?`)
		args = append(args, f.To.Unix())
	}
	b.WriteString(` ORDER BY start_at, id`)

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var start, end int64
		if err := rows.Scan(&ev.ID, &ev.UserID, &ev.Title, &ev.Location, &ev.Attendees, &start, &end); err != nil {
			return nil, err
		}
		ev.Start, ev.End = fromUnix(start), fromUnix(end)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteEvent removes one event and reports whether it existed.
func (s *Store) DeleteEvent(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM events WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
