package agentrunner_test

import (
	"context"
	"testing"

	"github.com/nanoclaw/host/internal/agentrunner"
)

func TestSkillHook_NilHookAllowsEverything(t *testing.T) {
	var hook *agentrunner.SkillHook
	allowed, err := hook.AllowToolCall(context.Background(), "bash")
	if err != nil {
		t.Fatalf("expected no error for a nil hook, got %v", err)
	}
	if !allowed {
		t.Fatal("expected a nil hook to allow every tool call")
	}
}

func TestSkillHook_NilHookCloseIsNoop(t *testing.T) {
	var hook *agentrunner.SkillHook
	if err := hook.Close(context.Background()); err != nil {
		t.Fatalf("expected nil-hook close to be a no-op, got %v", err)
	}
}

func TestNewSkillHook_RejectsInvalidModuleBytes(t *testing.T) {
	_, err := agentrunner.NewSkillHook(context.Background(), []byte("not a wasm module"))
	if err == nil {
		t.Fatal("expected an error for invalid wasm bytes")
	}
	var fault *agentrunner.SkillFault
	if !asSkillFault(err, &fault) {
		t.Fatalf("expected a *SkillFault, got %v", err)
	}
}

func asSkillFault(err error, target **agentrunner.SkillFault) bool {
	if f, ok := err.(*agentrunner.SkillFault); ok {
		*target = f
		return true
	}
	return false
}
