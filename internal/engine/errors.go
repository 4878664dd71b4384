package engine

import "fmt"

// Configuration errors are fatal to the run, reported with the
// originating source location (repo id + file path, see DESIGN.md).

type UnknownSchemeError struct {
	URL string
}

func (e *UnknownSchemeError) Error() string {
	return fmt.Sprintf("unknown repository scheme in url %q", e.URL)
}

type MissingFileError struct {
	RepoID string
	Path   string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("repo %s: missing file %s", e.RepoID, e.Path)
}

type ImportCycleError struct {
	Chain []string
}

func (e *ImportCycleError) Error() string {
	return fmt.Sprintf("import cycle detected: %v", e.Chain)
}

type ImportTargetNotFoundError struct {
	RepoID string
	Path   string
	Key    string
}

func (e *ImportTargetNotFoundError) Error() string {
	return fmt.Sprintf("repo %s: import target %s#%s not found", e.RepoID, e.Path, e.Key)
}

type RemoteUnavailableError struct {
	URL string
	Err error
}

func (e *RemoteUnavailableError) Error() string {
	return fmt.Sprintf("remote repository %s unavailable: %v", e.URL, e.Err)
}

func (e *RemoteUnavailableError) Unwrap() error { return e.Err }

type UnresolvedTemplateError struct {
	Key   string
	Value string
}

func (e *UnresolvedTemplateError) Error() string {
	return fmt.Sprintf("unresolved template placeholder in %s: %q", e.Key, e.Value)
}

// Catalog errors are per-image/per-session; offending row dropped or
// session partitioned, run continues.

type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("image %s: schema error: %s", e.Path, e.Reason)
}

type InconsistentSessionError struct {
	Target string
	Reason string
}

func (e *InconsistentSessionError) Error() string {
	return fmt.Sprintf("session for target %s inconsistent: %s", e.Target, e.Reason)
}

// Build errors are per-target: that target is skipped with a reason.

type NoEligibleStageError struct {
	Target    string
	SessionID string
}

func (e *NoEligibleStageError) Error() string {
	return fmt.Sprintf("target %s session %s: no eligible stage", e.Target, e.SessionID)
}

type GraphCycleError struct {
	Cycle []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("task graph cycle: %v", e.Cycle)
}

type MissingInputsError struct {
	Task   string
	Inputs []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("task %s: missing inputs %v", e.Task, e.Inputs)
}

// Execution errors are per-task; downstream blocked, siblings proceed.

type ToolFailedError struct {
	Task     string
	ExitCode int
	Excerpt  string
}

func (e *ToolFailedError) Error() string {
	return fmt.Sprintf("task %s: tool exited %d: %s", e.Task, e.ExitCode, e.Excerpt)
}

type ToolTimeoutError struct {
	Task       string
	TimeoutSec int
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("task %s: tool timed out after %ds", e.Task, e.TimeoutSec)
}

type InsufficientOutputsError struct {
	Task string
	Want int
	Have int
}

func (e *InsufficientOutputsError) Error() string {
	return fmt.Sprintf("task %s: produced %d of %d required outputs", e.Task, e.Have, e.Want)
}
