package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/taskmesh/internal/plan"
	"github.com/rahul/taskmesh/internal/store"
)

// CalendarStore is the persistence the calendar executor needs.
type CalendarStore interface {
	AddEvent(ctx context.Context, ev store.Event) (store.Event, error)
	FindEvents(ctx context.Context, userID string, filter store.EventFilter) ([]store.Event, error)
	DeleteEvent(ctx context.Context, userID string, id int64) (bool, error)
}

// CalendarExecutor handles calendar.create, calendar.query and calendar.delete.
type CalendarExecutor struct {
	Store CalendarStore
}

func NewCalendarExecutor(s CalendarStore) *CalendarExecutor {
	return &CalendarExecutor{Store: s}
}

func (c *CalendarExecutor) Execute(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	switch action.Type {
	case plan.ActionCalendarCreate:
		return c.create(ctx, action, p)
	case plan.ActionCalendarQuery:
		return c.query(ctx, action, p)
	case plan.ActionCalendarDelete:
		return c.delete(ctx, action, p)
	default:
		return nil, Invalidf(action, "calendar executor cannot handle %s", action.Type)
	}
}

func (c *CalendarExecutor) create(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	if err := requireParams(action, "title", "start"); err != nil {
		return nil, err
	}
	start, err := parseTime(action.Param("start"))
	if err != nil {
		return nil, Invalidf(action, "bad start time: %v", err)
	}
	end := start.Add(time.Hour)
	if s := action.Param("end"); s != "" {
		if end, err = parseTime(s); err != nil {
			return nil, Invalidf(action, "bad end time: %v", err)
		}
		if !end.After(start) {
			return nil, Invalidf(action, "end %s is not after start %s", end, start)
		}
	}

	// A retried attempt may already have written the event.
	existing, err := c.Store.FindEvents(ctx, p.UserID, store.EventFilter{Title: action.Param("title"), From: start, To: start})
	if err != nil {
		return nil, fmt.Errorf("failed to check existing events: %w", err)
	}
	for _, ev := range existing {
		if ev.Title == action.Param("title") && ev.Start.Equal(start) {
			return ev, nil
		}
	}

	ev, err := c.Store.AddEvent(ctx, store.Event{
		UserID:    p.UserID,
		Title:     action.Param("title"),
		Location:  action.Param("location"),
		Attendees: action.Param("attendees"),
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return ev, nil
}

func (c *CalendarExecutor) query(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	filter, err := eventFilter(action)
	if err != nil {
		return nil, err
	}
	events, err := c.Store.FindEvents(ctx, p.UserID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

func (c *CalendarExecutor) delete(ctx context.Context, action *plan.Action, p *plan.Plan) (any, error) {
	var targets []store.Event
	if src := action.Param("source"); src != "" {
		if q, ok := p.Action(src); ok {
			if found, ok := q.Result.([]store.Event); ok {
				targets = found
			}
		}
	}
	if targets == nil {
		filter, err := eventFilter(action)
		if err != nil {
			return nil, err
		}
		if filter == (store.EventFilter{}) {
			return nil, Invalidf(action, "no event to delete: need event_id, title or date")
		}
		if targets, err = c.Store.FindEvents(ctx, p.UserID, filter); err != nil {
			return nil, fmt.Errorf("failed to find events: %w", err)
		}
	}
	if len(targets) == 0 {
		return nil, Invalidf(action, "no matching calendar event")
	}
	// Titles are looked up by substring; an exact title wins over the rest.
	if title := action.Param("title"); title != "" && len(targets) > 1 {
		var exact []store.Event
		for _, ev := range targets {
			if strings.EqualFold(ev.Title, title) {
				exact = append(exact, ev)
			}
		}
		if len(exact) > 0 {
			targets = exact
		}
	}
	if len(targets) > 1 {
		return nil, Invalidf(action, "ambiguous, %d events match; give event_id or date", len(targets))
	}

	deleted := 0
	for _, ev := range targets {
		ok, err := c.Store.DeleteEvent(ctx, p.UserID, ev.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete event %d: %w", ev.ID, err)
		}
		if ok {
			deleted++
		}
	}
	return map[string]any{"deleted": deleted, "matched": len(targets)}, nil
}

func eventFilter(action *plan.Action) (store.EventFilter, error) {
	var f store.EventFilter
	if s := action.Param("event_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return f, Invalidf(action, "bad event_id %q", s)
		}
		f.ID = id
	}
	f.Title = action.Param("title")
	if s := action.Param("date"); s != "" {
		day, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return f, Invalidf(action, "bad date %q: want YYYY-MM-DD", s)
		}
		f.From, f.To = day, day.Add(24*time.Hour-time.Nanosecond)
	}
	if s := action.Param("start"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return f, Invalidf(action, "bad start time: %v", err)
		}
		f.From = t
	}
	if s := action.Param("end"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return f, Invalidf(action, "bad end time: %v", err)
		}
		f.To = t
	}
	return f, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or YYYY-MM-DD HH:MM, got %q", s)
	}
	return t.UTC(), nil
}
