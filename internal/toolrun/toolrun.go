// Package toolrun implements the Tool Runtime: the three tool kinds
// (stacker, image-tool, script) behind a single dispatch entry point
// that the Incremental Executor calls for every task it runs.
// Subprocess invocation is following the
// darktable_processor.go/rawtherapee_processor.go (CommandContext,
// CombinedOutput, working directory, bounded environment); the
// preferred+fallback binary resolution is grounded on
// tool_manager.go's ToolManager.
package toolrun

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"starbash/internal/config"
	"starbash/internal/engine"
)

const defaultHardTimeoutSec = 3600

// Runtime dispatches a materialized Task to the tool kind its Stage
// declares and satisfies executor.Runner.
type Runtime struct {
	Tools             config.Tools
	DefaultTimeoutSec int
	Log               *slog.Logger
}

// New constructs a Runtime.
func New(tools config.Tools, defaultTimeoutSec int, log *slog.Logger) *Runtime {
	return &Runtime{Tools: tools, DefaultTimeoutSec: defaultTimeoutSec, Log: log}
}

// Run executes t.Command (already bound against the final
// ProcessingContext by the executor) under the tool kind t.Tool names,
// inside t.WorkDir, with a hard timeout and a per-task log file.
func (r *Runtime) Run(ctx context.Context, t engine.Task) error {
	timeoutSec := t.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = r.DefaultTimeoutSec
	}
	if timeoutSec <= 0 {
		timeoutSec = defaultHardTimeoutSec
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	logFile, err := os.Create(filepath.Join(t.WorkDir, sanitizeLogName(t.Name)+".log"))
	if err != nil {
		return fmt.Errorf("task %s: open log file: %w", t.Name, err)
	}
	defer logFile.Close()

	var runErr error
	switch t.Tool {
	case engine.ToolStacker:
		runErr = r.runSubprocess(runCtx, t, logFile, true)
	case engine.ToolImageTool:
		runErr = r.runSubprocess(runCtx, t, logFile, false)
	case engine.ToolScript:
		runErr = runScript(t, logFile)
	default:
		return fmt.Errorf("task %s: unsupported tool kind %s", t.Name, t.Tool)
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &engine.ToolTimeoutError{Task: t.Name, TimeoutSec: timeoutSec}
	}
	return runErr
}

// runSubprocess invokes either the stacker (stdin script feed) or the
// image tool (explicit argv), writes the full transcript to logFile,
// and raises ToolFailedError with a bounded excerpt on non-zero exit.
func (r *Runtime) runSubprocess(ctx context.Context, t engine.Task, logFile io.Writer, stdin bool) error {
	var cmd *exec.Cmd
	if stdin {
		binary, err := FirstAvailable(r.Tools.Stacker)
		if err != nil {
			return fmt.Errorf("task %s: %w", t.Name, err)
		}
		cmd = exec.CommandContext(ctx, binary)
		cmd.Stdin = strings.NewReader(t.Command)
	} else {
		argv := splitArgs(t.Command)
		if len(argv) == 0 {
			return fmt.Errorf("task %s: empty command", t.Name)
		}
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	}
	cmd.Dir = t.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(logFile, &stdout)
	cmd.Stderr = io.MultiWriter(logFile, &stderr)

	err := cmd.Run()
	r.logWarnings(t.Name, stdout.String()+stderr.String())

	if err == nil {
		return nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &engine.ToolFailedError{
			Task:     t.Name,
			ExitCode: exitErr.ExitCode(),
			Excerpt:  boundedExcerpt(stderr.String()),
		}
	}
	return fmt.Errorf("task %s: %w", t.Name, err)
}

// logWarnings scans combined tool output for warning lines and emits
// the ones not matched by the configured allow-list to the structured
// logger. Every line is already retained verbatim in the on-disk log.
func (r *Runtime) logWarnings(taskName, output string) {
	if r.Log == nil {
		return
	}
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "warn") {
			continue
		}
		if allowListed(lower, r.Tools.WarningAllowList) {
			continue
		}
		r.Log.Warn("tool warning", "task", taskName, "line", strings.TrimSpace(line))
	}
}

func allowListed(lowerLine string, allowList []string) bool {
	for _, a := range allowList {
		if strings.Contains(lowerLine, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

// boundedExcerpt renders the first 5 and last 10 lines of s, per the
// invocation contract's bounded stderr excerpt.
func boundedExcerpt(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= 15 {
		return strings.Join(lines, "\n")
	}
	head := lines[:5]
	tail := lines[len(lines)-10:]
	return strings.Join(head, "\n") + "\n... (" + strconv.Itoa(len(lines)-15) + " lines omitted) ...\n" + strings.Join(tail, "\n")
}

func sanitizeLogName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// splitArgs is a minimal whitespace tokenizer supporting double-quoted
// segments, enough for the command lines a Stage's script template
// expands to. It does not attempt full shell semantics (no globbing,
// no escapes beyond closing a quote).
func splitArgs(command string) []string {
	var args []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			args = append(args, cur.String())
			cur.Reset()
		}
	}
	for _, r := range command {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' || r == '\t' || r == '\n':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				flush()
			}
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return args
}
