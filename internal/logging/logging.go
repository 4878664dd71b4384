package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"starbash/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug, warn, error).
// format may be "json" or "text".
func New(level string, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Setup configures global logging with file output and rotation.
func Setup(cfg *config.EngineConfig) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	if cfg.Logging.FileOutput {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %v", err)
		}
	}

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.Logging.FileOutput {
		logFile := filepath.Join(cfg.Logging.LogDir, fmt.Sprintf("starbash-%s.log",
			time.Now().Format("2006-01-02")))

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %v", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "starbash-current.log")
		os.Remove(currentLogPath)
		if err := os.Symlink(filepath.Base(logFile), currentLogPath); err != nil {
			// symlink failed, not critical
		}
	}

	multiWriter := io.MultiWriter(writers...)
	logger := log.New(multiWriter, "", log.LstdFlags)

	handler := &TraditionalHandler{logger: logger, level: level}
	slogLogger := slog.New(handler)
	slog.SetDefault(slogLogger)

	slogLogger.Info("starbash logging initialized",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"file_output", cfg.Logging.FileOutput,
		"log_dir", cfg.Logging.LogDir,
	)

	return slogLogger, nil
}

// TraditionalHandler implements slog.Handler with traditional log formatting.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	level := r.Level.String()
	msg := r.Message
	attrs := make([]string, 0)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(level), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *TraditionalHandler) WithGroup(name string) slog.Handler      { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogIngestSummary logs the outcome of a repository ingestion pass.
func LogIngestSummary(logger *slog.Logger, repoID string, images, dropped int, duration time.Duration) {
	logger.Info("repository ingested",
		"repo", repoID,
		"images", images,
		"dropped", dropped,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogTaskStart logs the beginning of a task dispatch.
func LogTaskStart(logger *slog.Logger, taskName, tool, target string, sessionIDs []string) {
	logger.Info("task started",
		"task", taskName,
		"tool", tool,
		"target", target,
		"sessions", sessionIDs,
	)
}

// LogTaskResult logs task completion, failure, or skip.
func LogTaskResult(logger *slog.Logger, taskName, status string, duration time.Duration, note string) {
	logger.Info("task finished",
		"task", taskName,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"duration_human", duration.String(),
		"note", note,
	)
}

// LogToolStatus logs tool detection and preflight status.
func LogToolStatus(logger *slog.Logger, tool string, available bool, version, path string, err error) {
	if available {
		logger.Debug("tool detected", "tool", tool, "version", version, "path", path)
	} else {
		logger.Debug("tool not available", "tool", tool, "error", err)
	}
}

// LogToolInvocation logs one subprocess dispatch by the Tool Runtime.
func LogToolInvocation(logger *slog.Logger, taskName, command string, exitCode int, duration time.Duration) {
	logger.Info("tool invocation",
		"task", taskName,
		"command", command,
		"exit_code", exitCode,
		"duration_ms", duration.Milliseconds(),
	)
}
