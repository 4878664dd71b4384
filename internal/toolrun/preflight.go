package toolrun

import (
	"fmt"
	"os/exec"
	"strings"

	"starbash/internal/config"
)

// Status reports whether a tool binary was found and, if so, what
// version it reported.
type Status struct {
	Available bool
	Path      string
	Version   string
	Err       error
}

// Preflight walks a preferred+fallback tool binary list and returns the
// status of every entry, keyed by binary name, the way
// ToolManager.GetToolStatus surveys its configured tools. It never
// stops early; the map does not record the preferred+fallback order,
// which FirstAvailable follows instead.
func Preflight(cfg config.ToolBinaryConfig) map[string]Status {
	names := append([]string{cfg.Preferred}, cfg.Fallbacks...)
	out := make(map[string]Status, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		out[name] = checkTool(name)
	}
	return out
}

// FirstAvailable returns the first binary in cfg's preferred+fallback
// order that is on PATH, or an error naming every attempt.
func FirstAvailable(cfg config.ToolBinaryConfig) (string, error) {
	names := append([]string{cfg.Preferred}, cfg.Fallbacks...)
	var tried []string
	for _, name := range names {
		if name == "" {
			continue
		}
		if st := checkTool(name); st.Available {
			return name, nil
		}
		tried = append(tried, name)
	}
	return "", fmt.Errorf("no available tool among %v", tried)
}

func checkTool(binary string) Status {
	path, err := exec.LookPath(binary)
	if err != nil {
		return Status{Available: false, Err: err}
	}

	versionArgs := versionArgsFor(binary)
	if len(versionArgs) == 0 {
		return Status{Available: true, Path: path}
	}

	cmd := exec.Command(versionArgs[0], versionArgs[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil && len(output) == 0 {
		return Status{Available: false, Path: path, Err: err}
	}
	return Status{Available: true, Path: path, Version: extractVersion(string(output))}
}

// versionArgsFor maps a binary name to the incantation that prints its
// version, one switch per known binary. Binaries that don't
// support a version flag without side effects are left unprobed.
func versionArgsFor(binary string) []string {
	switch binary {
	case "convert":
		return []string{"convert", "-version"}
	case "darktable-cli":
		return []string{"darktable-cli", "--version"}
	case "rawtherapee-cli":
		return []string{"rawtherapee-cli", "-v"}
	case "siril-cli":
		return []string{"siril-cli", "--version"}
	default:
		return nil
	}
}

// extractVersion pulls the first line mentioning "version" out of tool
// output, falling back to the first line.
func extractVersion(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.Contains(strings.ToLower(line), "version") {
			return line
		}
	}
	lines := strings.Split(output, "\n")
	if len(lines) > 0 {
		return strings.TrimSpace(lines[0])
	}
	return "unknown"
}
