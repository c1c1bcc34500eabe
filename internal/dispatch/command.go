package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"settingsd/internal/actions"
	"settingsd/internal/reconciler"
	"settingsd/internal/settings"
	"settingsd/internal/template"
	"settingsd/pkg/logging"
)

// Command runs an external program for an action. The argv comes from a
// template resolved per action and is rendered with the action's
// arguments plus "key", "value" and "operation".
type Command struct {
	resolve func(reconciler.PendingAction) ([]string, bool)
	engine  *template.Engine
	timeout time.Duration

	// launch starts the program and returns without waiting for it. Any
	// failure to start is permanent.
	launch bool
}

// NewCommand creates a handler for argv templates keyed by
// "subsystem.operation", as in the dispatch section of the daemon config.
func NewCommand(templates map[string][]string, engine *template.Engine, timeout time.Duration) *Command {
	return &Command{
		resolve: func(a reconciler.PendingAction) ([]string, bool) {
			argv, ok := templates[a.Subsystem+"."+a.Operation]
			return argv, ok && len(argv) > 0
		},
		engine:  engine,
		timeout: timeout,
	}
}

// NewActionCommand creates the handler of the command subsystem, which
// launches named actions from table. The launched program is not waited
// for and not killed when the daemon stops.
func NewActionCommand(table *actions.Table, engine *template.Engine) *Command {
	return &Command{
		resolve: func(a reconciler.PendingAction) ([]string, bool) {
			return table.Command(a.Operation)
		},
		engine: engine,
		launch: true,
	}
}

// Handle renders and runs the command.
func (c *Command) Handle(ctx context.Context, a reconciler.PendingAction) error {
	argv, ok := c.resolve(a)
	if !ok {
		return reconciler.Permanentf("no command configured for %s.%s", a.Subsystem, a.Operation)
	}

	data := template.MergeContexts(map[string]string{
		"key":       a.Key.String(),
		"value":     settings.Format(a.Value),
		"operation": a.Operation,
	}, a.Args)
	rendered, err := c.engine.RenderArgv(argv, data)
	if err != nil {
		return reconciler.Permanent(err)
	}

	if c.launch {
		if err := ctx.Err(); err != nil {
			return err
		}
		return start(rendered)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	logging.Debug("Dispatch", "Running %s", strings.Join(rendered, " "))
	cmd := exec.CommandContext(runCtx, rendered[0], rendered[1:]...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	return c.classify(ctx, runCtx, rendered[0], out, err)
}

func (c *Command) classify(parent, runCtx context.Context, name string, out []byte, err error) error {
	output := strings.TrimSpace(string(out))
	if len(output) > 200 {
		output = output[:200] + "..."
	}

	switch {
	case errors.Is(err, exec.ErrNotFound):
		return reconciler.Permanentf("%s: %w", name, err)
	case parent.Err() != nil:
		return parent.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s timed out after %s", name, c.timeout)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return reconciler.Permanentf("%s: %w", name, err)
	}

	failure := fmt.Errorf("%s exited with status %d: %s", name, exitErr.ExitCode(), output)
	// 126 and 127 are the shell's "not executable" and "not found".
	if code := exitErr.ExitCode(); code == 126 || code == 127 {
		return reconciler.Permanent(failure)
	}
	return failure
}

// start launches argv in its own session and reaps it in the background.
func start(argv []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	logging.Debug("Dispatch", "Launching %s", strings.Join(argv, " "))
	if err := cmd.Start(); err != nil {
		return reconciler.Permanentf("failed to launch %s: %w", argv[0], err)
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			logging.Debug("Dispatch", "%s (pid %d) ended: %v", argv[0], cmd.Process.Pid, err)
		}
	}()
	return nil
}
