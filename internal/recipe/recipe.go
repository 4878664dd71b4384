// Package recipe materializes typed Stage/Recipe values out of the
// Repository Layer's generic document union, and expands a stage's
// templated input/output paths against a ProcessingContext.
package recipe

import (
	"fmt"
	"strings"

	"starbash/internal/engine"
	"starbash/internal/repo"
)

// maxExpansionPasses bounds the fixed-point {name} placeholder
// expansion; a value still containing "{" after this many passes is
// reported as unresolved rather than looped on forever.
const maxExpansionPasses = 8

// Materialize walks u's "stage.*" and "recipe.*" entries and decodes
// each into a typed Stage/Recipe, tagging every stage with its
// long name (owning repo id + "/" + local name; the repo URL is not
// part of it) and owning repo id.
func Materialize(u *repo.Union) ([]engine.Stage, []engine.Recipe, error) {
	var stages []engine.Stage
	var recipes []engine.Recipe

	for _, key := range u.Keys() {
		name, ok := strings.CutPrefix(key, "stage.")
		if ok {
			entry, _ := u.Get(key)
			stage, err := decodeStage(name, entry)
			if err != nil {
				return nil, nil, err
			}
			stages = append(stages, stage)
			continue
		}
		if name, ok := strings.CutPrefix(key, "recipe."); ok {
			entry, _ := u.Get(key)
			rec, err := decodeRecipe(name, entry)
			if err != nil {
				return nil, nil, err
			}
			recipes = append(recipes, rec)
		}
	}
	return stages, recipes, nil
}

func decodeStage(name string, e repo.Entry) (engine.Stage, error) {
	m, ok := e.Value.(map[string]any)
	if !ok {
		return engine.Stage{}, fmt.Errorf("stage %s: declaration is not a table", name)
	}

	s := engine.Stage{
		LongName:   e.RepoID + "/" + name,
		RepoID:     e.RepoID,
		Name:       name,
		When:       strOr(m, "when", name),
		Tool:       engine.ToolKind(strOr(m, "tool", "")),
		Script:     strOr(m, "script", ""),
		ScriptFile: strOr(m, "script_file", ""),
		Output:     strSlice(m["output"]),
		Priority:   intOr(m, "priority", 0),
		Multiplex:  engine.MultiplexMode(strOr(m, "multiplex", string(engine.MultiplexPerSession))),
		MinOutputs: intOr(m, "min_outputs", 1),
		TimeoutSec: intOr(m, "timeout_sec", 0),
	}

	if inputRaw, ok := m["input"].(map[string]any); ok {
		s.Input = engine.InputDescriptor{
			Glob:          strOr(inputRaw, "glob", ""),
			UpstreamStage: strOr(inputRaw, "upstream_stage", ""),
			Files:         strSlice(inputRaw["files"]),
		}
	}

	if ctxRaw, ok := m["context"].(map[string]any); ok {
		ctx := map[string]string{}
		for k, v := range ctxRaw {
			ctx[k] = fmt.Sprint(v)
		}
		s.Context = ctx
	}

	for _, p := range tableSlice(m["parameters"]) {
		s.Params = append(s.Params, engine.ParamSpec{
			Name:    strOr(p, "name", ""),
			Default: p["default"],
			Doc:     strOr(p, "doc", ""),
		})
	}

	for _, r := range tableSlice(m["requires"]) {
		s.Requires = append(s.Requires, engine.Requirement{
			Kind:  strOr(r, "kind", ""),
			Value: strOr(r, "value", ""),
		})
	}

	return s, nil
}

func decodeRecipe(name string, e repo.Entry) (engine.Recipe, error) {
	m, ok := e.Value.(map[string]any)
	if !ok {
		return engine.Recipe{}, fmt.Errorf("recipe %s: declaration is not a table", name)
	}
	return engine.Recipe{
		Name:           name,
		Author:         strOr(m, "author", ""),
		RepoID:         e.RepoID,
		StageLongNames: strSlice(m["stages"]),
	}, nil
}

func strOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return fallback
}

func intOr(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func strSlice(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

// tableSlice normalizes a decoded TOML array-of-tables value (which
// go-toml/v2 hands back as []any of map[string]any when the target is
// `any`) into a plain slice of tables.
func tableSlice(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case []map[string]any:
		return t
	default:
		return nil
	}
}

// ExpandTemplate replaces every `{name}` placeholder in template with
// ctx[name], iterating to a fixed point so a value that itself
// contains a placeholder (e.g. a target directory built from other
// context keys) still resolves. Returns *engine.UnresolvedTemplateError
// if a placeholder remains after maxExpansionPasses.
func ExpandTemplate(ctx engine.ProcessingContext, template string) (string, error) {
	cur := template
	for pass := 0; pass < maxExpansionPasses; pass++ {
		next := expandOnce(ctx, cur)
		if next == cur {
			if strings.Contains(next, "{") {
				return "", &engine.UnresolvedTemplateError{Key: template, Value: next}
			}
			return next, nil
		}
		cur = next
	}
	if strings.Contains(cur, "{") {
		return "", &engine.UnresolvedTemplateError{Key: template, Value: cur}
	}
	return cur, nil
}

// expandOnce substitutes every `{name}` placeholder it can resolve
// against ctx, leaving unresolvable placeholders untouched in the
// output for the next pass (or final unresolved check) to see.
func expandOnce(ctx engine.ProcessingContext, s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '{')
		if open == -1 {
			b.WriteString(s[i:])
			break
		}
		open += i
		close := strings.IndexByte(s[open:], '}')
		if close == -1 {
			b.WriteString(s[i:])
			break
		}
		close += open
		key := s[open+1 : close]
		if val, ok := ctx[key]; ok {
			b.WriteString(s[i:open])
			b.WriteString(val)
		} else {
			b.WriteString(s[i : close+1])
		}
		i = close + 1
	}
	return b.String()
}

// ExpandOutputs expands every templated output filename of s against
// ctx.
func ExpandOutputs(ctx engine.ProcessingContext, s engine.Stage) ([]string, error) {
	out := make([]string, len(s.Output))
	for i, tmpl := range s.Output {
		v, err := ExpandTemplate(ctx, tmpl)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
