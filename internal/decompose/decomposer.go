package decompose

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rahul/taskmesh/internal/governance"
	"github.com/rahul/taskmesh/internal/plan"
)

// Intent is the canonical tag of an intent family.
type Intent string

const (
	IntentCalendarCreate Intent = "calendar.create"
	IntentCalendarQuery  Intent = "calendar.query"
	IntentCalendarDelete Intent = "calendar.delete"
	IntentTaskCreate     Intent = "task.create"
	IntentMessageSend    Intent = "message.send"
	IntentEmailSend      Intent = "email.send"
	IntentWebLookup      Intent = "web.lookup"
	IntentUnknown        Intent = "unknown"
)

// FallbackMessage is sent by the notify action of an unrecognized intent.
const FallbackMessage = "Sorry, I didn't understand what you'd like me to do. Could you rephrase?"

// Family describes one row of the decomposition policy table.
type Family struct {
	Intent  Intent
	Aliases []string
	Emits   []plan.ActionType
	build   func(b *builder, e Entities)
}

var families = []Family{
	{
		Intent:  IntentCalendarCreate,
		Aliases: []string{"create_event", "schedule_meeting", "calendar.add"},
		Emits:   []plan.ActionType{plan.ActionCalendarCreate, plan.ActionMessageSend},
		build:   buildCalendarCreate,
	},
	{
		Intent:  IntentCalendarQuery,
		Aliases: []string{"list_events", "calendar.list", "check_calendar"},
		Emits:   []plan.ActionType{plan.ActionCalendarQuery},
		build:   buildCalendarQuery,
	},
	{
		Intent:  IntentCalendarDelete,
		Aliases: []string{"cancel_event", "delete_event", "calendar.remove"},
		Emits:   []plan.ActionType{plan.ActionCalendarQuery, plan.ActionCalendarDelete},
		build:   buildCalendarDelete,
	},
	{
		Intent:  IntentTaskCreate,
		Aliases: []string{"add_task", "todo.create", "reminder.create"},
		Emits:   []plan.ActionType{plan.ActionTaskCreate, plan.ActionSystemNotify},
		build:   buildTaskCreate,
	},
	{
		Intent:  IntentMessageSend,
		Aliases: []string{"send_message", "whatsapp.send", "message"},
		Emits:   []plan.ActionType{plan.ActionMessageSend, plan.ActionEmailSend},
		build:   buildMessageSend,
	},
	{
		Intent:  IntentEmailSend,
		Aliases: []string{"send_email"},
		Emits:   []plan.ActionType{plan.ActionEmailSend},
		build:   buildEmailSend,
	},
	{
		Intent:  IntentWebLookup,
		Aliases: []string{"web.fetch", "lookup", "read_url"},
		Emits:   []plan.ActionType{plan.ActionWebFetch, plan.ActionSystemNotify},
		build:   buildWebLookup,
	},
}

var unknownFamily = Family{
	Intent: IntentUnknown,
	Emits:  []plan.ActionType{plan.ActionSystemNotify},
	build:  buildUnknown,
}

// Families returns the policy table, unknown fallback last.
func Families() []Family {
	out := append([]Family(nil), families...)
	return append(out, unknownFamily)
}

// Lookup resolves an intent tag or alias to its family. Matching is
// case-insensitive; unrecognized tags resolve to the unknown family.
func Lookup(intentType string) (Family, bool) {
	tag := strings.ToLower(strings.TrimSpace(intentType))
	for _, f := range families {
		if string(f.Intent) == tag {
			return f, true
		}
		for _, alias := range f.Aliases {
			if alias == tag {
				return f, true
			}
		}
	}
	return unknownFamily, false
}

// Decomposer maps an intent plus entities to an Action DAG. It holds no
// mutable state and performs no I/O.
type Decomposer struct {
	Policy     governance.PolicyEngine
	MaxRetries int
	Timeout    time.Duration
}

func NewDecomposer(policy governance.PolicyEngine, maxRetries int, timeout time.Duration) *Decomposer {
	if policy == nil {
		policy = governance.NewDefaultPolicyEngine()
	}
	return &Decomposer{
		Policy:     policy,
		MaxRetries: maxRetries,
		Timeout:    timeout,
	}
}

// Decompose returns the actions for intentType in insertion order.
//
// Unknown intents never fail; they degrade to a single system.notify action.
// The only error is governance.ErrDenied, when the policy forbids one of the
// produced actions.
func (d *Decomposer) Decompose(intentType string, entities, context map[string]any, userID string) ([]*plan.Action, error) {
	family, _ := Lookup(intentType)
	b := &builder{
		d:       d,
		context: context,
		userID:  userID,
		intent:  intentType,
		counts:  make(map[plan.ActionType]int),
	}
	family.build(b, Entities(entities))
	if b.denied != nil {
		return nil, b.denied
	}
	return b.actions, nil
}

// Title returns a short human-readable plan title.
func Title(intentType string, entities map[string]any) string {
	family, ok := Lookup(intentType)
	e := Entities(entities)
	subject := e.Str("title", "subject", "recipient", "url", "query")
	if !ok {
		return "Unrecognized request"
	}
	name := strings.ReplaceAll(string(family.Intent), ".", " ")
	if subject == "" {
		return name
	}
	return fmt.Sprintf("%s: %s", name, subject)
}

type builder struct {
	d       *Decomposer
	context map[string]any
	userID  string
	intent  string
	actions []*plan.Action
	counts  map[plan.ActionType]int
	denied  error
}

// add appends an action of type t depending on deps. Confirmation is seeded
// from the policy engine.
func (b *builder) add(t plan.ActionType, description string, params map[string]any, deps ...*plan.Action) *plan.Action {
	b.counts[t]++
	res := b.d.Policy.Evaluate(governance.Request{ActionType: t, Parameters: params, UserID: b.userID})
	if res.Effect == governance.EffectDeny && b.denied == nil {
		b.denied = fmt.Errorf("%w: %s: %s", governance.ErrDenied, t, res.Reason)
	}

	if len(b.context) > 0 {
		params["context"] = maps.Clone(b.context)
	}
	a := &plan.Action{
		ID:                   fmt.Sprintf("%s-%d", t, b.counts[t]),
		Type:                 t,
		Description:          description,
		Parameters:           params,
		RequiresConfirmation: res.Effect == governance.EffectConfirm,
		MaxRetries:           b.d.MaxRetries,
		Timeout:              b.d.Timeout,
		Status:               plan.ActionPending,
	}
	for _, dep := range deps {
		a.Dependencies = append(a.Dependencies, dep.ID)
	}
	b.actions = append(b.actions, a)
	return a
}

func buildCalendarCreate(b *builder, e Entities) {
	title := e.StrOr("Untitled event", "title", "subject")
	create := b.add(plan.ActionCalendarCreate,
		fmt.Sprintf("Create calendar event %q", title),
		e.Pick(map[string]any{"title": title}, "start", "end", "location", "attendees"))

	attendees := e.Str("attendees")
	if attendees == "" {
		return
	}
	when := e.Str("start")
	text := fmt.Sprintf("You're invited: %s", title)
	if when != "" {
		text = fmt.Sprintf("You're invited: %s at %s", title, when)
	}
	b.add(plan.ActionMessageSend,
		fmt.Sprintf("Send invitation for %q to %s", title, attendees),
		map[string]any{"recipient": attendees, "text": text, "event": create.ID},
		create)
}

func buildCalendarQuery(b *builder, e Entities) {
	b.add(plan.ActionCalendarQuery, "Look up calendar events",
		e.Pick(map[string]any{}, "title", "date", "start", "end"))
}

func buildCalendarDelete(b *builder, e Entities) {
	title := e.Str("title", "subject")
	query := b.add(plan.ActionCalendarQuery,
		fmt.Sprintf("Find calendar event %q", title),
		e.Pick(map[string]any{}, "title", "date", "event_id"))
	b.add(plan.ActionCalendarDelete,
		fmt.Sprintf("Delete calendar event %q", title),
		e.Pick(map[string]any{"source": query.ID}, "title", "date", "event_id"),
		query)
}

func buildTaskCreate(b *builder, e Entities) {
	title := e.StrOr("Untitled task", "title", "task", "description")
	task := b.add(plan.ActionTaskCreate,
		fmt.Sprintf("Create task %q", title),
		e.Pick(map[string]any{"title": title}, "due", "interval_seconds"))

	if !e.Bool("remind") {
		return
	}
	b.add(plan.ActionSystemNotify,
		fmt.Sprintf("Confirm task %q was created", title),
		map[string]any{"message": fmt.Sprintf("Task created: %s", title), "source": task.ID},
		task)
}

func buildMessageSend(b *builder, e Entities) {
	if strings.EqualFold(e.Str("channel"), "email") {
		buildEmailSend(b, e)
		return
	}
	recipient := e.Str("recipient", "to", "contact")
	b.add(plan.ActionMessageSend,
		fmt.Sprintf("Send message to %s", recipient),
		map[string]any{"recipient": recipient, "text": e.Str("text", "message", "body")})
}

func buildEmailSend(b *builder, e Entities) {
	recipient := e.Str("recipient", "to", "contact")
	b.add(plan.ActionEmailSend,
		fmt.Sprintf("Send email %q to %s", e.Str("subject"), recipient),
		map[string]any{
			"recipient": recipient,
			"subject":   e.Str("subject"),
			"body":      e.Str("body", "text", "message"),
		})
}

func buildWebLookup(b *builder, e Entities) {
	url := e.Str("url", "link")
	if url == "" {
		if query := e.Str("query", "search", "topic"); query != "" {
			fetch := b.add(plan.ActionWebFetch, fmt.Sprintf("Search the web for %q", query), map[string]any{"query": query})
			b.add(plan.ActionSystemNotify,
				fmt.Sprintf("Share search results for %q", query),
				map[string]any{"message": fmt.Sprintf("Here is what I found for %q", query), "source": fetch.ID},
				fetch)
			return
		}
	}
	fetch := b.add(plan.ActionWebFetch, fmt.Sprintf("Fetch %s", url), map[string]any{"url": url})
	b.add(plan.ActionSystemNotify,
		fmt.Sprintf("Share a summary of %s", url),
		map[string]any{"message": fmt.Sprintf("Here is what I found at %s", url), "source": fetch.ID},
		fetch)
}

func buildUnknown(b *builder, _ Entities) {
	b.add(plan.ActionSystemNotify, "Tell the user the request was not understood",
		map[string]any{"message": FallbackMessage, "intent": b.intent})
}
