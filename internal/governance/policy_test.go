package governance

import (
	"testing"

	"github.com/rahul/taskmesh/internal/plan"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()

	// Benign types are explicitly auto-approved
	res1 := engine.Evaluate(Request{ActionType: plan.ActionCalendarQuery})
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// High impact types must be confirmed
	for _, typ := range HighImpact {
		res := engine.Evaluate(Request{ActionType: typ})
		if res.Effect != EffectConfirm {
			t.Errorf("Expected EffectConfirm for %s, got %s", typ, res.Effect)
		}
	}

	// Deny
	engine.DenyType(plan.ActionWebFetch)
	res2 := engine.Evaluate(Request{ActionType: plan.ActionWebFetch})
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}
}

func TestDefaultPolicyEngine_UnlistedTypeRequiresConfirmation(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	engine.Forget(plan.ActionTaskCreate)

	res := engine.Evaluate(Request{ActionType: plan.ActionTaskCreate})
	if res.Effect != EffectConfirm {
		t.Errorf("Expected EffectConfirm for unlisted type, got %s", res.Effect)
	}

	engine.AutoApprove(plan.ActionMessageSend)
	if res := engine.Evaluate(Request{ActionType: plan.ActionMessageSend}); res.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow after AutoApprove, got %s", res.Effect)
	}
}

func TestDefaultPolicyEngine_DenyArguments(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyArguments(`recipient=.*@competitor\.com`); err != nil {
		t.Fatalf("DenyArguments failed: %v", err)
	}
	if err := engine.DenyArguments(`(`); err == nil {
		t.Error("Expected error for invalid pattern")
	}

	res := engine.Evaluate(Request{
		ActionType: plan.ActionEmailSend,
		Parameters: map[string]any{"recipient": "ceo@competitor.com", "body": "hi"},
	})
	if res.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s (%s)", res.Effect, res.Reason)
	}

	res = engine.Evaluate(Request{
		ActionType: plan.ActionEmailSend,
		Parameters: map[string]any{"recipient": "friend@example.com"},
	})
	if res.Effect != EffectConfirm {
		t.Errorf("Expected EffectConfirm, got %s", res.Effect)
	}
}
