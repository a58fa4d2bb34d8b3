package agentrunner

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// SkillFault mirrors the teacher's structured WASM fault shape, narrowed to
// the single pre/post-tool hook point this package exposes.
type SkillFault struct {
	Reason string
	Detail string
}

func (e *SkillFault) Error() string { return fmt.Sprintf("skillhook: %s: %s", e.Reason, e.Detail) }

const (
	FaultModuleNotFound = "SKILLHOOK_MODULE_NOT_FOUND"
	FaultTimeout        = "SKILLHOOK_TIMEOUT"
	FaultMemoryExceeded = "SKILLHOOK_MEMORY_EXCEEDED"
	FaultNoExport       = "SKILLHOOK_NO_EXPORT"
	FaultExecError      = "SKILLHOOK_FAULT"
	FaultQuarantined    = "SKILLHOOK_QUARANTINED"
)

const (
	defaultMemoryLimitPages = 256 // 16MiB, one wasm page is 64KiB
	quarantineAfterFaults   = 3
)

// SkillHook wraps a single optional WASM module that gets one veto over
// each tool call the turn loop is about to make (pre-tool) and a read-only
// look at the result afterward (post-tool). It runs alongside, never
// instead of, the native secret-scrub hook — an absent or quarantined
// module is always equivalent to allowing every call.
type SkillHook struct {
	runtime    wazero.Runtime
	module     api.Module
	faultCount int
}

// NewSkillHook loads wasmBytes as the hook module. A nil *SkillHook (from a
// caller that chooses not to configure one) is valid: every method on a nil
// receiver below treats it as "no hook configured, allow everything."
func NewSkillHook(ctx context.Context, wasmBytes []byte) (*SkillHook, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(defaultMemoryLimitPages))

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, &SkillFault{Reason: FaultModuleNotFound, Detail: err.Error()}
	}
	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		_ = rt.Close(ctx)
		return nil, &SkillFault{Reason: FaultExecError, Detail: err.Error()}
	}
	return &SkillHook{runtime: rt, module: mod}, nil
}

// Close releases the underlying wazero runtime.
func (h *SkillHook) Close(ctx context.Context) error {
	if h == nil || h.runtime == nil {
		return nil
	}
	return h.runtime.Close(ctx)
}

// AllowToolCall asks the hook module whether toolName may run. Quarantine
// kicks in after quarantineAfterFaults consecutive execution faults, at
// which point the hook degrades to "allow everything" rather than blocking
// the agent on a broken policy module.
func (h *SkillHook) AllowToolCall(ctx context.Context, toolName string) (bool, error) {
	if h == nil || h.module == nil {
		return true, nil
	}
	if h.faultCount >= quarantineAfterFaults {
		return true, &SkillFault{Reason: FaultQuarantined, Detail: "hook module quarantined after repeated faults"}
	}

	fn := h.module.ExportedFunction("allow_tool_call")
	if fn == nil {
		return true, &SkillFault{Reason: FaultNoExport, Detail: "allow_tool_call not exported"}
	}

	ptr, freeErr := writeWASMString(ctx, h.module, toolName)
	if freeErr != nil {
		h.recordFault()
		return true, &SkillFault{Reason: FaultExecError, Detail: freeErr.Error()}
	}

	results, err := fn.Call(ctx, ptr, uint64(len(toolName)))
	if err != nil {
		h.recordFault()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return true, &SkillFault{Reason: FaultTimeout, Detail: err.Error()}
		}
		return true, &SkillFault{Reason: FaultExecError, Detail: err.Error()}
	}
	h.faultCount = 0
	return len(results) > 0 && results[0] != 0, nil
}

func (h *SkillHook) recordFault() {
	h.faultCount++
}

// writeWASMString writes s into the module's linear memory via its malloc
// export and returns the pointer, matching the teacher's host-function
// string-passing convention.
func writeWASMString(ctx context.Context, module api.Module, s string) (uint64, error) {
	malloc := module.ExportedFunction("malloc")
	if malloc == nil {
		return 0, fmt.Errorf("module has no malloc export")
	}
	results, err := malloc.Call(ctx, uint64(len(s)))
	if err != nil {
		return 0, err
	}
	ptr := results[0]
	if !module.Memory().Write(uint32(ptr), []byte(s)) {
		return 0, fmt.Errorf("failed to write string into module memory")
	}
	return ptr, nil
}
