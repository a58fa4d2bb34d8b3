// Package runner spawns and supervises the per-run container: one process
// per worker run, speaking the IPC protocol in internal/ipc over a mounted
// volume and framed JSON over stdout/stdin.
package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
)

// Spec describes one container run.
type Spec struct {
	Group        string
	Image        string
	Mounts       []string // host:container bind specs, includes the IPC volume
	Env          []string
	StdinPayload []byte // prompt, session_id?, group metadata, secrets
	Timeouts     Timeouts

	// PurgeIPC, if set, is called once during cleanup to remove a stray
	// `_close` sentinel left by a prior run in this group's input dir.
	PurgeIPC func() error
}

// Hooks lets the caller observe the run without coupling this package to
// the store or bus.
type Hooks struct {
	OnSpawnConfirmed func()
	OnFrame          func(Frame)
	OnHeartbeat      func()
	OnLiftedLog      func(line string)
	OnDiscardLine    func(line string)
	OnRawStderr      func(line string)
}

// Result is the outcome of one Run call.
type Result struct {
	ContainerID string
	ExitReason  string
	ExitCode    int
	Err         error
}

// closeWriter is satisfied by the net.Conn docker attach returns, whose
// concrete type supports half-closing the write side.
type closeWriter interface {
	CloseWrite() error
}

// Runner spawns containers under a shared concurrency semaphore.
type Runner struct {
	docker DockerAPI
	sem    *Semaphore
	logger *slog.Logger
}

// New creates a Runner. sem is shared across every group so the global
// MAX_CONCURRENT_CONTAINERS bound holds host-wide.
func New(docker DockerAPI, sem *Semaphore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{docker: docker, sem: sem, logger: logger}
}

// Run spawns one container for spec and blocks until it exits, is killed by
// a timer, or ctx is cancelled. The semaphore permit is held for the
// container's entire lifetime.
func (r *Runner) Run(ctx context.Context, spec Spec, hooks Hooks) Result {
	if err := r.sem.Acquire(ctx); err != nil {
		return Result{ExitReason: ExitCancelled, Err: fmt.Errorf("runner: acquire semaphore: %w", err)}
	}
	defer r.sem.Release()

	created, err := r.docker.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}, &container.HostConfig{
		Binds: spec.Mounts,
	}, nil, nil, "")
	if err != nil {
		return Result{ExitReason: ExitCrash, Err: fmt.Errorf("runner: create container: %w", err)}
	}
	containerID := created.ID

	if err := r.docker.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		r.cleanup(containerID, spec.PurgeIPC)
		return Result{ContainerID: containerID, ExitReason: ExitCrash, Err: fmt.Errorf("runner: start container: %w", err)}
	}

	hijacked, err := r.docker.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		r.cleanup(containerID, spec.PurgeIPC)
		return Result{ContainerID: containerID, ExitReason: ExitCrash, Err: fmt.Errorf("runner: attach: %w", err)}
	}
	defer hijacked.Close()

	if len(spec.StdinPayload) > 0 {
		if _, err := hijacked.Conn.Write(spec.StdinPayload); err != nil {
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: ExitCrash, Err: fmt.Errorf("runner: write stdin: %w", err)}
		}
	}

	demuxDone := make(chan error, 1)
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		demuxDone <- demux(hijacked.Reader, stdoutW, stderrW)
	}()

	var (
		mu        sync.Mutex
		confirmed bool
	)
	confirmOnce := func() {
		mu.Lock()
		already := confirmed
		confirmed = true
		mu.Unlock()
		if !already && hooks.OnSpawnConfirmed != nil {
			hooks.OnSpawnConfirmed()
		}
	}
	wasConfirmed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return confirmed
	}

	noOutputTimer := time.NewTimer(spec.Timeouts.NoOutput)
	idleTimer := time.NewTimer(spec.Timeouts.Idle)
	hardTimer := time.NewTimer(spec.Timeouts.Hard)
	defer noOutputTimer.Stop()
	defer idleTimer.Stop()
	defer hardTimer.Stop()

	resetTimer := func(t *time.Timer, d time.Duration) {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d)
	}

	stdoutDone := make(chan error, 1)
	go func() {
		stdoutDone <- ScanStdout(stdoutR, StdoutSink{
			OnFrame: func(f Frame) {
				confirmOnce()
				resetTimer(noOutputTimer, spec.Timeouts.NoOutput)
				resetTimer(idleTimer, spec.Timeouts.Idle)
				if hooks.OnFrame != nil {
					hooks.OnFrame(f)
				}
			},
			OnDiscard: func(line string) {
				if hooks.OnDiscardLine != nil {
					hooks.OnDiscardLine(line)
				}
			},
		})
	}()

	stderrDone := make(chan error, 1)
	go func() {
		stderrDone <- ScanStderr(stderrR, StderrSink{
			OnHeartbeat: func() {
				confirmOnce()
				resetTimer(noOutputTimer, spec.Timeouts.NoOutput)
				if hooks.OnHeartbeat != nil {
					hooks.OnHeartbeat()
				}
			},
			OnLifted: func(line string) {
				if hooks.OnLiftedLog != nil {
					hooks.OnLiftedLog(line)
				}
			},
			OnRaw: func(line string) {
				if hooks.OnRawStderr != nil {
					hooks.OnRawStderr(line)
				}
			},
		})
	}()

	waitCh, waitErrCh := r.docker.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	idleClosed := false
	for {
		select {
		case <-noOutputTimer.C:
			reason := ExitNoOutputTimeout
			if !wasConfirmed() {
				reason = ExitCrashBeforeConfirm
			}
			r.kill(containerID)
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: reason, Err: fmt.Errorf("runner: %s", reason)}

		case <-idleTimer.C:
			if !idleClosed {
				idleClosed = true
				if cw, ok := hijacked.Conn.(closeWriter); ok {
					_ = cw.CloseWrite()
				}
				resetTimer(idleTimer, spec.Timeouts.Grace)
				continue
			}
			r.kill(containerID)
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: ExitIdleHardCap, Err: fmt.Errorf("runner: %s", ExitIdleHardCap)}

		case <-hardTimer.C:
			r.kill(containerID)
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: ExitHardTimeout, Err: fmt.Errorf("runner: %s", ExitHardTimeout)}

		case <-ctx.Done():
			r.kill(containerID)
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: ExitCancelled, Err: ctx.Err()}

		case err := <-waitErrCh:
			r.cleanup(containerID, spec.PurgeIPC)
			return Result{ContainerID: containerID, ExitReason: ExitCrash, Err: fmt.Errorf("runner: wait: %w", err)}

		case status := <-waitCh:
			r.drain(stdoutDone, stderrDone, demuxDone)
			r.cleanup(containerID, spec.PurgeIPC)
			reason := ExitSuccess
			if status.StatusCode != 0 {
				reason = ExitCrash
			}
			return Result{ContainerID: containerID, ExitReason: reason, ExitCode: int(status.StatusCode)}
		}
	}
}

// kill force-stops the container; failures are logged, never fatal to the
// caller, since cleanup's own remove call will retry teardown regardless.
func (r *Runner) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.docker.ContainerKill(ctx, containerID, "SIGKILL"); err != nil {
		r.logger.Warn("runner: kill failed", "container_id", containerID, "error", err)
	}
}

// cleanup runs the spec's exit sequence: force-stop (idempotent if already
// killed), remove the container, and purge any stray IPC `_close` sentinel.
func (r *Runner) cleanup(containerID string, purgeIPC func() error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := r.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.logger.Warn("runner: remove failed", "container_id", containerID, "error", err)
	}
	if purgeIPC != nil {
		if err := purgeIPC(); err != nil {
			r.logger.Warn("runner: purge ipc sentinel failed", "container_id", containerID, "error", err)
		}
	}
}

// drain waits briefly for the stdout/stderr scanners and the demux
// goroutine to finish, so their errors (if any) are observed and the
// goroutines don't leak past Run's return.
func (r *Runner) drain(stdoutDone, stderrDone, demuxDone chan error) {
	timeout := time.After(5 * time.Second)
	remaining := 3
	for remaining > 0 {
		select {
		case err := <-stdoutDone:
			remaining--
			if err != nil {
				r.logger.Debug("runner: stdout scan ended", "error", err)
			}
		case err := <-stderrDone:
			remaining--
			if err != nil {
				r.logger.Debug("runner: stderr scan ended", "error", err)
			}
		case err := <-demuxDone:
			remaining--
			if err != nil && err != io.EOF {
				r.logger.Debug("runner: demux ended", "error", err)
			}
		case <-timeout:
			return
		}
	}
}
