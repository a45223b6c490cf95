package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/neuralhub/neuralhub/internal/catalog"
	"github.com/neuralhub/neuralhub/internal/chat"
	"github.com/neuralhub/neuralhub/internal/quota"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat *chat.Store
	Gate *quota.Gate
}

// NewMCPServer creates an MCP server exposing the chat hub to agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"neuralhub",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("neuralhub local chat hub: conversations, model selection, and API key usage."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message in the active conversation and return the assistant reply."),
			mcp.WithString("content", mcp.Description("The message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("list_conversations",
			mcp.WithDescription("List stored conversations, most recent first (titles and ids, no messages)."),
		),
		mcpListConversations(deps),
	)

	s.AddTool(
		mcp.NewTool("get_conversation",
			mcp.WithDescription("Fetch one conversation with its full message history."),
			mcp.WithString("id", mcp.Description("Conversation id"), mcp.Required()),
		),
		mcpGetConversation(deps),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the available AI models and the current selection."),
		),
		mcpListModels(deps),
	)

	s.AddTool(
		mcp.NewTool("set_active_model",
			mcp.WithDescription("Select the model used for subsequent messages."),
			mcp.WithString("model", mcp.Description("Model id, e.g. openai:gpt-4o"), mcp.Required()),
		),
		mcpSetActiveModel(deps),
	)

	s.AddTool(
		mcp.NewTool("usage_status",
			mcp.WithDescription("Report free-tier request usage: used, max, and remaining."),
		),
		mcpUsageStatus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"chat://session",
			"Chat Session",
			mcp.WithResourceDescription("Active conversation, selected model, and free-tier usage as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSession(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		msg, err := deps.Chat.SendMessage(ctx, content)
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}
		return mcpText(msg.Content), nil
	}
}

func mcpListConversations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		convs, err := deps.Chat.Conversations()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list conversations: %v", err)), nil
		}

		type convSummary struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Model    string `json:"model"`
			Messages int    `json:"messages"`
			Updated  string `json:"updated_at"`
		}

		summaries := make([]convSummary, len(convs))
		for i, c := range convs {
			summaries[i] = convSummary{
				ID:       c.ID,
				Title:    c.Title,
				Model:    c.Model,
				Messages: len(c.Messages),
				Updated:  c.UpdatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		conv, err := deps.Chat.Conversation(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get conversation: %v", err)), nil
		}

		b, err := json.Marshal(conv)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal conversation: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(map[string]any{
			"active": deps.Chat.ActiveModel(),
			"models": catalog.Models(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal models: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetActiveModel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		model, err := req.RequireString("model")
		if err != nil {
			return mcpError("model is required"), nil
		}
		if _, ok := catalog.Lookup(model); !ok {
			return mcpError(fmt.Sprintf("unknown model %q", model)), nil
		}

		if err := deps.Chat.SetActiveModel(model); err != nil {
			return mcpError(fmt.Sprintf("failed to set model: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Active model set to %s", model)), nil
	}
}

func mcpUsageStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(map[string]int{
			"used":      deps.Gate.CurrentUsage(),
			"max":       deps.Gate.Max(),
			"remaining": deps.Gate.Remaining(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal usage: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceSession(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		state := map[string]any{
			"model":   deps.Chat.ActiveModel(),
			"loading": deps.Chat.Loading(),
			"usage": map[string]int{
				"used":      deps.Gate.CurrentUsage(),
				"max":       deps.Gate.Max(),
				"remaining": deps.Gate.Remaining(),
			},
		}
		if conv, ok, err := deps.Chat.ActiveConversation(); err != nil {
			return nil, fmt.Errorf("failed to resolve active conversation: %w", err)
		} else if ok {
			title := conv.Title
			if utf8.RuneCountInString(title) > 200 {
				runes := []rune(title)
				title = string(runes[:200]) + "..."
			}
			state["conversation"] = map[string]string{
				"id":    conv.ID,
				"title": title,
			}
		}

		b, err := json.Marshal(state)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session state: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
