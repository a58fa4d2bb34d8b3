package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nanoclaw/host/internal/agentrunner"
	"github.com/nanoclaw/host/internal/config"
	"github.com/nanoclaw/host/internal/dispatch"
	"github.com/nanoclaw/host/internal/ipc"
	"github.com/nanoclaw/host/internal/queue"
	"github.com/nanoclaw/host/internal/runner"
	"github.com/nanoclaw/host/internal/store"
)

// dispatchRouter is the Host Router's dispatch-forwarding edge, decoupled so
// this package can be built before the router exists (it depends on the
// queue manager, which depends on this invoker) and wired in afterward via
// SetRouter.
type dispatchRouter interface {
	RouteDispatch(ctx context.Context, sourceGroup string, p dispatch.Payload) (created bool, err error)
}

// containerInvoker is queue.Invoker: it spawns one container per coalesced
// batch, feeds it the batch's combined prompt, promotes any run the group
// had queued to running once the spawn is confirmed, scans the developer
// lane's output for a dispatch block to forward to the worker tier, and —
// when the group has a run in the running state — resolves that run's
// completion contract against the container's final frame.
type containerInvoker struct {
	run      *runner.Runner
	db       *store.Store
	ipcRoot  string
	groups   map[string]config.GroupConfigEntry
	authCfg  config.AuthLaneConfig
	timeouts runner.Timeouts
	logger   *slog.Logger

	routerMu sync.RWMutex
	router   dispatchRouter
}

// SetRouter wires the Host Router in after both it and the invoker have
// been constructed, breaking the invoker→router→queue-manager→invoker
// construction cycle.
func (c *containerInvoker) SetRouter(r dispatchRouter) {
	c.routerMu.Lock()
	defer c.routerMu.Unlock()
	c.router = r
}

func (c *containerInvoker) getRouter() dispatchRouter {
	c.routerMu.RLock()
	defer c.routerMu.RUnlock()
	return c.router
}

func (c *containerInvoker) Invoke(ctx context.Context, group, prompt string, batch []queue.Message) error {
	g, ok := c.groups[group]
	if !ok {
		return fmt.Errorf("invoke: group %q is not registered", group)
	}

	paths := ipc.NewPaths(c.ipcRoot, group)
	if err := paths.EnsureDirs(); err != nil {
		return fmt.Errorf("invoke: ensure ipc dirs: %w", err)
	}

	isMain := g.LaneClass == "main"
	payload := agentrunner.StdinPayload{
		Prompt:      prompt,
		GroupFolder: group,
		IsMain:      isMain,
		Secrets: map[string]string{
			"ANTHROPIC_API_KEY":          "$(" + c.authCfg.PrimaryAPIKeyEnv + ")",
			"ANTHROPIC_API_KEY_FALLBACK": "$(" + c.authCfg.FallbackAPIKeyEnv + ")",
			"AUTH_FALLBACK_ENABLED":      fmt.Sprintf("%t", c.authCfg.FallbackEnabled && isMain),
		},
	}
	stdin, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("invoke: marshal stdin payload: %w", err)
	}

	var lastFrame runner.Frame
	var gotFrame bool
	var spawnConfirmed atomic.Bool
	hooks := runner.Hooks{
		OnSpawnConfirmed: func() {
			spawnConfirmed.Store(true)
			if err := c.transitionQueuedRuns(ctx, group, dispatch.RunStateRunning, nil); err != nil {
				c.logger.Error("transition queued runs to running", "group", group, "error", err)
			}
		},
		OnFrame: func(f runner.Frame) {
			lastFrame = f
			gotFrame = true
			c.logger.Info("container frame received", "group", group)
		},
		OnLiftedLog: func(line string) {
			c.logger.Info("agent-runner log", "group", group, "line", line)
		},
	}

	spec := runner.Spec{
		Group:        group,
		Image:        g.Image,
		Mounts:       append([]string{c.ipcRoot + ":" + c.ipcRoot}, g.Mounts...),
		Env:          []string{},
		StdinPayload: stdin,
		Timeouts:     c.timeouts,
		PurgeIPC:     paths.CleanStaleClose,
	}

	result := c.run.Run(ctx, spec, hooks)

	if !spawnConfirmed.Load() {
		reason := &dispatch.CompletionArtifacts{FailureReason: "container_spawn_failed: " + result.ExitReason}
		if err := c.transitionQueuedRuns(ctx, group, dispatch.RunStateFailed, reason); err != nil {
			c.logger.Error("transition queued runs to failed before confirm", "group", group, "error", err)
		}
	}

	if result.Err != nil {
		return fmt.Errorf("invoke: container run (%s): %w", result.ExitReason, result.Err)
	}
	if !gotFrame {
		return fmt.Errorf("invoke: container exited %s with no output frame", result.ExitReason)
	}

	var res agentrunner.Result
	if err := json.Unmarshal(lastFrame.JSON, &res); err != nil {
		return fmt.Errorf("invoke: parse output frame: %w", err)
	}
	if res.Error != "" {
		return fmt.Errorf("invoke: agent turn error: %s", res.Error)
	}

	c.forwardDispatchIfPresent(ctx, group, res.Output)

	return c.resolveAnyRunningRun(ctx, group, res.Output)
}

// transitionQueuedRuns moves every run the group has in the queued state to
// toState. A worker group normally has at most one queued run at a time
// (one dispatch per enqueued batch), but the sweep handles a coalesced
// batch carrying more than one just as well.
func (c *containerInvoker) transitionQueuedRuns(ctx context.Context, group, toState string, artifacts *dispatch.CompletionArtifacts) error {
	runs, err := c.db.RunsByGroupState(ctx, group, []string{dispatch.RunStateQueued})
	if err != nil {
		return fmt.Errorf("list queued runs: %w", err)
	}
	adapter := dispatchStoreAdapter{db: c.db}
	for _, r := range runs {
		if _, err := adapter.TransitionRun(ctx, r.RunID, []string{dispatch.RunStateQueued}, toState, artifacts); err != nil {
			return fmt.Errorf("transition run %s to %s: %w", r.RunID, toState, err)
		}
	}
	return nil
}

// forwardDispatchIfPresent scans a controller lane's output for a dispatch
// block and, if one is found, forwards it through the Host Router so it is
// authorized against the lane matrix and — on acceptance — enqueued into
// the target worker group's queue. A malformed block or a routing failure
// (policy_blocked, dispatch_invalid) is logged, not fatal to this turn: the
// chat-facing reply already landed regardless of whether its embedded
// dispatch was accepted.
func (c *containerInvoker) forwardDispatchIfPresent(ctx context.Context, group, output string) {
	p, found, err := dispatch.ExtractDispatchPayload(output)
	if !found {
		return
	}
	if err != nil {
		c.logger.Error("malformed dispatch block in container output", "group", group, "error", err)
		return
	}
	router := c.getRouter()
	if router == nil {
		c.logger.Error("dispatch block found but no router wired", "group", group, "run_id", p.RunID)
		return
	}
	if _, err := router.RouteDispatch(ctx, group, p); err != nil {
		c.logger.Warn("route dispatch", "group", group, "run_id", p.RunID, "error", err)
	}
}

// resolveAnyRunningRun looks for a run in the running state for group and,
// if found, resolves its completion contract against output. A plain chat
// turn with no in-flight dispatch run is a no-op here — not every
// container invocation corresponds to a dispatched run.
func (c *containerInvoker) resolveAnyRunningRun(ctx context.Context, group, output string) error {
	runs, err := c.db.RunsByGroupState(ctx, group, []string{dispatch.RunStateRunning})
	if err != nil {
		return fmt.Errorf("invoke: list running runs: %w", err)
	}
	if len(runs) == 0 {
		return nil
	}

	adapter := dispatchStoreAdapter{db: c.db}
	for _, r := range runs {
		p := dispatch.Payload{
			RunID:  r.RunID,
			Branch: r.DispatchBranch,
			OutputContract: dispatch.OutputContract{
				RequiredFields: []string{"run_id", "branch", "commit_sha", "test_result", "risk"},
			},
		}
		if _, _, err := dispatch.ResolveCompletion(ctx, adapter, p, output); err != nil {
			return fmt.Errorf("invoke: resolve completion for run %s: %w", r.RunID, err)
		}
	}
	return nil
}
