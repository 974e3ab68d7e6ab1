package agent

import (
	"context"
	"fmt"
	"strings"
)

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func registerCoreTools(reg *ToolRegistry) error {
	tools := []RegisteredTool{
		{
			Definition: ToolDefinition{
				Name:        "read_file",
				Description: "Read a UTF-8 text file relative to the project directory.",
				Parameters: map[string]any{
					"type":                 "object",
					"properties":           map[string]any{"path": map[string]any{"type": "string", "minLength": 1}},
					"required":             []string{"path"},
					"additionalProperties": false,
				},
			},
			Exec: func(ctx context.Context, ws *Workspace, args map[string]any) (any, error) {
				return ws.ReadFile(stringArg(args, "path"))
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "write_file",
				Description: "Create or overwrite a file relative to the project directory. Parent directories are created.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"path":     map[string]any{"type": "string", "minLength": 1},
						"contents": map[string]any{"type": "string"},
					},
					"required":             []string{"path", "contents"},
					"additionalProperties": false,
				},
			},
			Exec: func(ctx context.Context, ws *Workspace, args map[string]any) (any, error) {
				path, contents := stringArg(args, "path"), stringArg(args, "contents")
				if err := ws.WriteFile(path, contents); err != nil {
					return nil, err
				}
				return fmt.Sprintf("wrote %d bytes to %s", len(contents), path), nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "list_files",
				Description: "List project files matching a glob such as **/*.py. Defaults to every file.",
				Parameters: map[string]any{
					"type":                 "object",
					"properties":           map[string]any{"pattern": map[string]any{"type": "string"}},
					"additionalProperties": false,
				},
			},
			Exec: func(ctx context.Context, ws *Workspace, args map[string]any) (any, error) {
				files, err := ws.ListFiles(stringArg(args, "pattern"))
				if err != nil {
					return nil, err
				}
				if len(files) == 0 {
					return "(no files)", nil
				}
				return strings.Join(files, "\n"), nil
			},
		},
		{
			Definition: ToolDefinition{
				Name:        "run_command",
				Description: "Run a shell command in the project directory and return its exit code and output.",
				Parameters: map[string]any{
					"type":                 "object",
					"properties":           map[string]any{"command": map[string]any{"type": "string", "minLength": 1}},
					"required":             []string{"command"},
					"additionalProperties": false,
				},
			},
			Exec: func(ctx context.Context, ws *Workspace, args map[string]any) (any, error) {
				if ws.ToolTimeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, ws.ToolTimeout)
					defer cancel()
				}
				res := ws.Executor.Execute(ctx, stringArg(args, "command"), ws.Root)
				out := fmt.Sprintf("exit_code: %d\n--- stdout ---\n%s\n--- stderr ---\n%s", res.ExitCode, res.Stdout, res.Stderr)
				if res.ExitCode != 0 {
					return out, fmt.Errorf("command exited with %d", res.ExitCode)
				}
				return out, nil
			},
		},
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}
