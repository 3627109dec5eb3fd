package governance

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rahul/taskmesh/internal/plan"
)

// ErrDenied is returned when a plan contains an action the policy forbids.
var ErrDenied = errors.New("action denied by policy")

// Effect defines the result of a policy evaluation.
type Effect string

const (
	// EffectAllow runs the action without asking the user.
	EffectAllow Effect = "allow"
	// EffectConfirm parks the action until the user approves it.
	EffectConfirm Effect = "confirm"
	// EffectDeny refuses to build a plan containing the action.
	EffectDeny Effect = "deny"
)

// Request describes one decomposed action to be evaluated.
type Request struct {
	ActionType plan.ActionType
	Parameters map[string]any
	UserID     string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine classifies actions at decomposition time. Evaluation must be
// pure: no I/O, same answer for the same request.
type PolicyEngine interface {
	Evaluate(req Request) Result
}

// DefaultPolicyEngine keeps an explicit confirm/allow entry per action type.
// Types with no entry require confirmation.
type DefaultPolicyEngine struct {
	Confirmation map[plan.ActionType]Effect
	DeniedTypes  map[plan.ActionType]bool
	DeniedRegex  []*regexp.Regexp
}

// HighImpact is the default set of action types that must be confirmed.
var HighImpact = []plan.ActionType{
	plan.ActionCalendarDelete,
	plan.ActionMessageSend,
	plan.ActionEmailSend,
}

// NewDefaultPolicyEngine returns an engine with every known action type
// classified: HighImpact types confirm, the rest are auto-approved.
func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	e := &DefaultPolicyEngine{
		Confirmation: make(map[plan.ActionType]Effect),
		DeniedTypes:  make(map[plan.ActionType]bool),
		DeniedRegex:  make([]*regexp.Regexp, 0),
	}
	for _, t := range plan.ActionTypes() {
		e.Confirmation[t] = EffectAllow
	}
	for _, t := range HighImpact {
		e.Confirmation[t] = EffectConfirm
	}
	return e
}

// RequireConfirmation marks t as high impact.
func (e *DefaultPolicyEngine) RequireConfirmation(t plan.ActionType) {
	e.Confirmation[t] = EffectConfirm
}

// AutoApprove lets t run without asking the user.
func (e *DefaultPolicyEngine) AutoApprove(t plan.ActionType) {
	e.Confirmation[t] = EffectAllow
}

// Forget removes the explicit entry for t so it falls back to confirmation.
func (e *DefaultPolicyEngine) Forget(t plan.ActionType) {
	delete(e.Confirmation, t)
}

func (e *DefaultPolicyEngine) DenyType(t plan.ActionType) {
	e.DeniedTypes[t] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(req Request) Result {
	if e.DeniedTypes[req.ActionType] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Action '%s' is restricted by system policy", req.ActionType),
		}
	}

	if len(e.DeniedRegex) > 0 {
		args := flatten(req.Parameters)
		for _, re := range e.DeniedRegex {
			if re.MatchString(args) {
				return Result{
					Effect: EffectDeny,
					Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
				}
			}
		}
	}

	effect, ok := e.Confirmation[req.ActionType]
	if !ok {
		return Result{Effect: EffectConfirm, Reason: "No explicit policy; confirmation required"}
	}
	if effect == EffectConfirm {
		return Result{Effect: EffectConfirm, Reason: "High-impact action requires confirmation"}
	}
	return Result{Effect: EffectAllow, Reason: "Approved by default policy"}
}

// flatten renders parameters as sorted key=value lines so argument patterns
// match deterministically.
func flatten(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v\n", k, params[k])
	}
	return b.String()
}
