// Package tools exposes the tracker as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pearls-dev/pearls/internal/tracker"
	"github.com/pearls-dev/pearls/internal/types"
)

// ServerName is the name reported to MCP clients.
const ServerName = "pearls"

// Config carries what the tool handlers need.
type Config struct {
	Service *tracker.Service
	Logger  *log.Logger
}

// NewConfig builds a Config around svc. A nil logger discards output.
func NewConfig(svc *tracker.Service, logger *log.Logger) *Config {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Config{Service: svc, Logger: logger}
}

// NewServer creates an MCP server with every tool registered.
func NewServer(cfg *Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
	)
	RegisterAll(s, cfg)
	return s
}

// ServeStdio serves s over stdin/stdout until stdin closes.
func ServeStdio(s *server.MCPServer, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(os.Stderr, "[mcp] ", log.LstdFlags)
	}
	return server.ServeStdio(s, server.WithErrorLogger(logger))
}

// RegisterAll adds every task tool to s.
func RegisterAll(s *server.MCPServer, cfg *Config) {
	stateEnum := []string{
		string(types.StateReady),
		string(types.StateBlocked),
		string(types.StateInProgress),
		string(types.StateClosed),
	}
	intItems := mcp.Items(map[string]any{"type": "integer"})

	list := mcp.NewTool(ToolList,
		mcp.WithDescription("List tasks, optionally filtering by effective state."),
		mcp.WithArray("state",
			mcp.Description("States to include (defaults to ready, blocked, in_progress)."),
			mcp.Items(map[string]any{"type": "string", "enum": stateEnum}),
		),
	)

	claimNext := mcp.NewTool(ToolClaimNext,
		mcp.WithDescription("Claim the highest-priority ready task and mark it in_progress."),
	)

	add := mcp.NewTool(ToolAdd,
		mcp.WithDescription("Add a task with title, description, and optional relationships."),
		mcp.WithString("title", mcp.Required()),
		mcp.WithString("description", mcp.Required()),
		mcp.WithNumber("parent_of",
			mcp.Description("Make the new task a parent of this task id."),
		),
		mcp.WithNumber("child_of",
			mcp.Description("Make the new task a child of this task id."),
		),
		mcp.WithNumber("priority",
			mcp.Description("Lower is more urgent. Defaults to 1."),
		),
	)

	updateMetadata := mcp.NewTool(ToolUpdateMetadata,
		mcp.WithDescription("Update a task's title, description, priority, or state."),
		mcp.WithNumber("id", mcp.Required()),
		mcp.WithString("title"),
		mcp.WithString("desc"),
		mcp.WithNumber("priority"),
		mcp.WithString("state", mcp.Enum(stateEnum...)),
	)

	updateDependency := mcp.NewTool(ToolUpdateDependency,
		mcp.WithDescription("Add or remove parent and child dependencies of a task. "+
			"Applied in order: add_parent, remove_parent, add_child, remove_child."),
		mcp.WithNumber("id", mcp.Required()),
		mcp.WithArray("add_parent", intItems),
		mcp.WithArray("remove_parent", intItems),
		mcp.WithArray("add_child", intItems),
		mcp.WithArray("remove_child", intItems),
	)

	s.AddTool(list, makeHandler(cfg, ToolList))
	s.AddTool(claimNext, makeHandler(cfg, ToolClaimNext))
	s.AddTool(add, makeHandler(cfg, ToolAdd))
	s.AddTool(updateMetadata, makeHandler(cfg, ToolUpdateMetadata))
	s.AddTool(updateDependency, makeHandler(cfg, ToolUpdateDependency))
}

func makeHandler(cfg *Config, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cmd, err := ParseCommand(name, request.GetArguments())
		if err != nil {
			cfg.Logger.Printf("Rejected %s call: %v", name, err)
			return errorResult(err), nil
		}
		result, err := Dispatch(ctx, cfg.Service, cmd)
		if err != nil {
			cfg.Logger.Printf("%s failed: %v", name, err)
			return errorResult(err), nil
		}
		return result, nil
	}
}

// Dispatch executes a parsed command against svc.
func Dispatch(ctx context.Context, svc *tracker.Service, cmd Command) (*mcp.CallToolResult, error) {
	switch c := cmd.(type) {
	case ListCommand:
		tasks, err := svc.List(ctx, types.ListFilter{States: c.States})
		if err != nil {
			return nil, err
		}
		return jsonResult(tasks)

	case ClaimNextCommand:
		task, err := svc.ClaimNext(ctx)
		if err != nil {
			return nil, err
		}
		if task == nil {
			return jsonResult(statusBody{Status: "no_ready_tasks"})
		}
		return jsonResult(task)

	case AddCommand:
		res, err := svc.Add(ctx, tracker.AddRequest{
			Title:       c.Title,
			Description: c.Description,
			Priority:    c.Priority,
			ParentOf:    c.ParentOf,
			ChildOf:     c.ChildOf,
		})
		if err != nil {
			return nil, err
		}
		result, err := jsonResult(res.Task)
		if err != nil {
			return nil, err
		}
		for _, w := range res.Warnings {
			result.Content = append(result.Content, mcp.TextContent{
				Type: "text",
				Text: "warning: " + w.Error(),
			})
		}
		return result, nil

	case UpdateMetadataCommand:
		task, changed, err := svc.UpdateMetadata(ctx, c.ID, c.Update)
		if err != nil {
			return nil, err
		}
		if changed == 0 {
			return jsonResult(statusBody{Status: "no_changes"})
		}
		return jsonResult(task)

	case UpdateDependencyCommand:
		task, err := svc.UpdateDependency(ctx, c.ID, c.Update)
		if err != nil {
			return nil, err
		}
		return jsonResult(task)
	}

	return nil, invalidf("unsupported command %T", cmd)
}

type statusBody struct {
	Status string `json:"status"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return textResult(string(data)), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

func errorResult(err error) *mcp.CallToolResult {
	body := errorBody{Error: errorDetail{Code: types.ErrorCode(err), Message: err.Error()}}
	data, marshalErr := json.Marshal(body)
	text := string(data)
	if marshalErr != nil {
		text = err.Error()
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
}
