package starbash

import (
	"sort"

	"starbash/internal/engine"
)

// ReportRow is one line of the user-facing failure/status summary:
// (target, session, task, status, note).
type ReportRow struct {
	Target  string
	Session string
	Task    string
	Status  engine.TaskStatus
	Note    string
}

// Report is the table a driver renders after a process-masters or
// process-auto run, plus the exit code it implies.
type Report struct {
	Rows []ReportRow
}

// ExitCode: 0 when every task succeeded or was already up to date, 1
// when at least one target has a failed or blocked task. Fatal build
// errors are not part of the Report: ProcessMasters/ProcessAuto return
// them as a non-nil error, and cmd/starbash exits with status 1 for
// that error just as for a failed row, so a build failure has no
// distinct exit status.
func (r Report) ExitCode() int {
	for _, row := range r.Rows {
		if row.Status == engine.StatusFailed || row.Status == engine.StatusBlocked {
			return 1
		}
	}
	return 0
}

func buildReport(final map[string]engine.Task) Report {
	var rows []ReportRow
	for _, t := range final {
		session := ""
		if len(t.SessionIDs) > 0 {
			session = t.SessionIDs[0]
		}
		rows = append(rows, ReportRow{
			Target:  t.Target,
			Session: session,
			Task:    t.Name,
			Status:  t.Status,
			Note:    t.Note,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Task < rows[j].Task })
	return Report{Rows: rows}
}
