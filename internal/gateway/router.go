package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/taskmesh/internal/confirm"
	"github.com/rahul/taskmesh/internal/engine"
	"github.com/rahul/taskmesh/internal/intent"
	"github.com/rahul/taskmesh/internal/plan"
)

// Orchestrator is the part of the engine the gateways drive.
type Orchestrator interface {
	Submit(ctx context.Context, req engine.PlanRequest) (*plan.Plan, error)
	ResolveConfirmation(ctx context.Context, handle confirm.Handle, approved bool) (*plan.Plan, error)
	CancelPlan(planID string) bool
	GetPlan(ctx context.Context, planID string) (*plan.Plan, bool)
	ListPlans() []*plan.Plan
}

type Recognizer interface {
	Recognize(ctx context.Context, chatID string, input string) (intent.Intent, error)
}

// Router turns inbound chat text into engine calls and renders the reply.
// It is shared by every gateway.
type Router struct {
	Engine     Orchestrator
	Recognizer Recognizer
	// Timeout bounds one inbound message, including running its plan.
	Timeout time.Duration
}

func NewRouter(e Orchestrator, r Recognizer) *Router {
	return &Router{Engine: e, Recognizer: r, Timeout: 5 * time.Minute}
}

const helpText = `I can schedule, look up and cancel calendar events, create tasks and reminders, send messages and emails, and summarize web pages.

Commands:
/plans - list your active plans
/approve <id> - approve a pending action
/deny <id> - deny a pending action
/cancel <plan> - cancel a plan`

// Handle processes one message from userID and returns the reply.
func (r *Router) Handle(ctx context.Context, userID string, text string) string {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	text = strings.TrimSpace(text)
	cmd, arg, _ := strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "/start", "/help":
		return helpText
	case "/plans":
		return r.listPlans(userID)
	case "/approve":
		return r.Resolve(ctx, userID, confirm.Handle(arg), true)
	case "/deny":
		return r.Resolve(ctx, userID, confirm.Handle(arg), false)
	case "/cancel":
		return r.cancel(ctx, userID, arg)
	}

	if r.Recognizer == nil {
		return "I can't understand free text right now. Try /help."
	}
	in, err := r.Recognizer.Recognize(ctx, userID, text)
	if err != nil {
		log.Printf("[ GATEWAY ] Error recognizing intent: %v", err)
		return "I'm having trouble thinking right now..."
	}
	if in.Reply != "" && in.Type == "unknown" {
		return in.Reply
	}

	p, err := r.Engine.Submit(ctx, engine.PlanRequest{
		Intent:   in.Type,
		Entities: in.Entities,
		Context:  map[string]any{"message": text},
		UserID:   userID,
	})
	if err != nil {
		log.Printf("[ GATEWAY ] Error creating plan for %s: %v", userID, err)
		return fmt.Sprintf("I couldn't do that: %v", err)
	}
	return FormatPlan(p)
}

// Resolve applies a decision for handle on behalf of userID.
func (r *Router) Resolve(ctx context.Context, userID string, handle confirm.Handle, approved bool) string {
	planID, _, err := confirm.ParseHandle(handle)
	if err != nil {
		return "Usage: /approve <id> or /deny <id>"
	}
	if p, ok := r.Engine.GetPlan(ctx, planID); !ok || p.UserID != userID {
		return "That confirmation doesn't exist or has already been handled."
	}

	p, err := r.Engine.ResolveConfirmation(ctx, handle, approved)
	switch {
	case errors.Is(err, confirm.ErrUnknownConfirmation), errors.Is(err, engine.ErrPlanNotFound):
		return "That confirmation doesn't exist or has already been handled."
	case err != nil && p == nil:
		log.Printf("[ GATEWAY ] Error resolving %s: %v", handle, err)
		return fmt.Sprintf("Something went wrong: %v", err)
	}
	verb := "Denied"
	if approved {
		verb = "Approved"
	}
	return verb + ".\n\n" + FormatPlan(p)
}

func (r *Router) cancel(ctx context.Context, userID, planID string) string {
	if planID == "" {
		return "Usage: /cancel <plan>"
	}
	if p, ok := r.Engine.GetPlan(ctx, planID); !ok || p.UserID != userID {
		return "No such plan."
	}
	if !r.Engine.CancelPlan(planID) {
		return "That plan has already finished."
	}
	return fmt.Sprintf("Plan %s cancelled.", planID)
}

func (r *Router) listPlans(userID string) string {
	var b strings.Builder
	for _, p := range r.Engine.ListPlans() {
		if p.UserID != userID {
			continue
		}
		fmt.Fprintf(&b, "• %s [%s] %.0f%% (%s)\n", p.Title, p.Status, p.Progress, p.ID)
	}
	if b.Len() == 0 {
		return "You have no active plans."
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseDecision decodes button payloads of the form "y:<handle>" and
// "n:<handle>".
func ParseDecision(data string) (confirm.Handle, bool, error) {
	verdict, handle, ok := strings.Cut(data, ":")
	if !ok || handle == "" {
		return "", false, fmt.Errorf("malformed decision %q", data)
	}
	switch verdict {
	case "y":
		return confirm.Handle(handle), true, nil
	case "n":
		return confirm.Handle(handle), false, nil
	default:
		return "", false, fmt.Errorf("malformed decision %q", data)
	}
}

// DecisionData encodes a button payload for ParseDecision.
func DecisionData(h confirm.Handle, approved bool) string {
	if approved {
		return "y:" + string(h)
	}
	return "n:" + string(h)
}

var statusIcon = map[plan.ActionStatus]string{
	plan.ActionPending:             "⏳",
	plan.ActionInProgress:          "🔄",
	plan.ActionWaitingConfirmation: "❓",
	plan.ActionCompleted:           "✅",
	plan.ActionFailed:              "❌",
	plan.ActionCancelled:           "🚫",
}

// FormatPlan renders a plan for chat.
func FormatPlan(p *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %.0f%%\n", p.Title, p.Status, p.Progress)
	for _, a := range p.Actions {
		desc := a.Description
		if desc == "" {
			desc = string(a.Type)
		}
		fmt.Fprintf(&b, "%s %s", statusIcon[a.Status], desc)
		if a.Error != "" && a.Status != plan.ActionCompleted {
			fmt.Fprintf(&b, ": %s", a.Error)
		}
		b.WriteString("\n")
	}
	if p.Diagnostic != "" && p.Status != plan.StatusCompleted {
		fmt.Fprintf(&b, "\n%s\n", p.Diagnostic)
	}
	if p.Count(plan.ActionWaitingConfirmation) > 0 {
		b.WriteString("\nWaiting for your confirmation.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// confirmationText is the body of a confirmation prompt.
func confirmationText(req confirm.Request) string {
	return fmt.Sprintf("⚠️ Confirmation needed\n\n%s\n\nExpires at %s.", req.Description, req.ExpiresAt.Format("15:04 MST"))
}
