package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"agentloop/pkg/logx"
)

// Plugins are plain Go files interpreted at load time. A plugin exports any
// subset of the five hook functions with the signature
//
//	func BeforeRun(ctx map[string]any) error
//
// The map payload keeps the contract duck-typed: interpreted code needs no
// symbols from this module. Each exported function is validated structurally
// before registration; declared-but-wrong shapes are rejected per file.

// manifest is the optional plugins.yaml controlling which files load and in
// what order. Without one, every .go file in the directory loads sorted by name.
type manifest struct {
	Plugins []manifestEntry `yaml:"plugins"`
}

type manifestEntry struct {
	File    string `yaml:"file"`
	Enabled *bool  `yaml:"enabled,omitempty"` // nil means enabled
}

var hookMapType = reflect.TypeOf(map[string]any{})
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// LoadDir loads plugins from dir into the dispatcher. A missing directory is
// not an error; a broken plugin file is, so misconfiguration surfaces at
// startup rather than as silently absent hooks mid-run.
func LoadDir(d *Dispatcher, dir string) error {
	logger := logx.NewLogger("hooks")

	files, err := pluginFiles(dir)
	if err != nil || len(files) == 0 {
		return err
	}

	for _, file := range files {
		p, err := loadPluginFile(file)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", filepath.Base(file), err)
		}
		d.Register(p)
		logger.Info("loaded plugin %s", p.Name)
	}
	return nil
}

func pluginFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}

	if m, ok := readManifest(dir); ok {
		var files []string
		for _, e := range m.Plugins {
			if e.Enabled != nil && !*e.Enabled {
				continue
			}
			files = append(files, filepath.Join(dir, e.File))
		}
		return files, nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".go" {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func readManifest(dir string) (*manifest, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "plugins.yaml"))
	if err != nil {
		return nil, false
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		logx.Warnf("plugins.yaml unparseable, falling back to directory scan: %v", err)
		return nil, false
	}
	return &m, true
}

func loadPluginFile(path string) (Plugin, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Plugin{}, fmt.Errorf("interpreter setup: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return Plugin{}, fmt.Errorf("interpret: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), ".go")
	p := Plugin{Name: name}
	found := false

	for _, hookName := range []string{HookBeforeRun, HookBeforeIteration, HookAfterIteration, HookDone, HookOnError} {
		value, err := i.Eval(hookName)
		if err != nil {
			continue // absent hook is not an error
		}
		fn, err := adaptHook(value)
		if err != nil {
			return Plugin{}, fmt.Errorf("%s: %w", hookName, err)
		}
		found = true
		switch hookName {
		case HookBeforeRun:
			p.BeforeRun = fn
		case HookBeforeIteration:
			p.BeforeIteration = fn
		case HookAfterIteration:
			p.AfterIteration = fn
		case HookDone:
			p.Done = fn
		case HookOnError:
			p.OnError = fn
		}
	}

	if !found {
		return Plugin{}, fmt.Errorf("no hook functions exported")
	}
	return p, nil
}

// adaptHook validates an interpreted value structurally and wraps it as a
// HookFunc. The declared shape is never trusted; only what reflection shows.
func adaptHook(value reflect.Value) (HookFunc, error) {
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil, fmt.Errorf("not a function")
	}
	t := value.Type()
	if t.NumIn() != 1 || t.In(0) != hookMapType {
		return nil, fmt.Errorf("must take exactly one map[string]any argument")
	}
	if t.NumOut() != 1 || !t.Out(0).Implements(errorType) {
		return nil, fmt.Errorf("must return exactly one error")
	}

	return func(ctx Context) error {
		results := value.Call([]reflect.Value{reflect.ValueOf(ctx.payload())})
		if results[0].IsNil() {
			return nil
		}
		return results[0].Interface().(error) //nolint:forcetypeassert // shape verified above
	}, nil
}

// payload flattens the hook context into the duck-typed map plugins receive.
func (c Context) payload() map[string]any {
	m := map[string]any{
		"repoRoot":        c.RepoRoot,
		"branch":          c.Branch,
		"verbose":         c.Verbose,
		"dryRun":          c.DryRun,
		"iteration":       c.Iteration,
		"totalIterations": c.TotalIterations,
	}
	if c.Config != nil {
		m["config"] = map[string]any{
			"maxRetries":             c.Config.MaxRetries,
			"defaultIterations":      c.Config.DefaultIterations,
			"maxCostPerIterationUsd": c.Config.MaxCostPerIteration,
			"maxCostPerSessionUsd":   c.Config.MaxCostPerSession,
			"backend":                c.Config.Backend,
			"model":                  c.Config.Model,
		}
	}
	if c.Session != nil {
		m["sessionId"] = c.Session.ID
		m["totalCostUsd"] = c.Session.TotalCostUSD
	}
	if c.Result != nil {
		m["result"] = map[string]any{
			"iteration":       c.Result.Iteration,
			"success":         c.Result.Success,
			"status":          c.Result.Status,
			"backlogComplete": c.Result.BacklogComplete,
			"costUsd":         c.Result.CostUSD(),
		}
	}
	if c.Err != nil {
		m["error"] = c.Err.Error()
	}
	return m
}
