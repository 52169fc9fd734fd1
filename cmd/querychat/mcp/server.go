package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/search"
	"github.com/neilberkman/querychat/internal/core/submit"
)

// AskArgs defines arguments for the ask_data_question tool
type AskArgs struct {
	Question string `json:"question" jsonschema:"description=Natural-language question about the data,required"`
	NewChat  bool   `json:"new_chat,omitempty" jsonschema:"description=Start a new chat before asking"`
	FilePath string `json:"file_path,omitempty" jsonschema:"description=CSV file to analyze instead of the server's database"`
	Instant  bool   `json:"instant,omitempty" jsonschema:"description=Ask in the instant-analysis chat, reusing its file"`
}

// ListChatsArgs defines arguments for the list_chats tool
type ListChatsArgs struct {
	Query string `json:"query,omitempty" jsonschema:"description=Search text with optional role:, has:sql, after:, before: filters"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Max chats to return (default: 20)"`
}

// ChatArgs identifies a chat by id
type ChatArgs struct {
	ChatID string `json:"chat_id" jsonschema:"description=Chat id,required"`
}

// ChatSummary represents a chat in the list view
type ChatSummary struct {
	ChatID       string `json:"chat_id"`
	Number       int    `json:"number"`
	Title        string `json:"title"`
	UpdatedAt    string `json:"updated_at"`
	MessageCount int    `json:"message_count"`
	Current      bool   `json:"current"`
	Snippet      string `json:"snippet,omitempty"`
}

// MessageDetail represents a single message of a chat
type MessageDetail struct {
	Role              string `json:"role"`
	Content           string `json:"content"`
	SQLQuery          string `json:"sql_query,omitempty"`
	Table             string `json:"table,omitempty"`
	AnalysisStatement string `json:"analysis_statement,omitempty"`
	HasChart          bool   `json:"has_chart,omitempty"`
	Timestamp         string `json:"timestamp"`
}

// ChatDetail is a chat with all its messages
type ChatDetail struct {
	ChatID    string          `json:"chat_id"`
	Title     string          `json:"title"`
	CreatedAt string          `json:"created_at"`
	Messages  []MessageDetail `json:"messages"`
	Remaining int             `json:"remaining"`
}

// AskResult is the reply to ask_data_question
type AskResult struct {
	ChatID  string        `json:"chat_id"`
	Reply   MessageDetail `json:"reply"`
	Dataset string        `json:"csv_data,omitempty"`
}

// NewServer registers the querychat tools on a new MCP server
func NewServer(a *app.App, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"QueryChat",
		version,
	)

	askTool := mcp.NewTool("ask_data_question",
		mcp.WithDescription("Ask the analytics server a natural-language question about the data. Returns the answer, the generated SQL, result table and analysis. The question is added to the current chat with prior messages as context; each chat holds a limited number of messages."),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the data, e.g. 'What's the average weekly sales for each type of store?'")),
		mcp.WithBoolean("new_chat",
			mcp.Description("Start a new chat before asking (needed when the current chat is full)")),
		mcp.WithString("file_path",
			mcp.Description("Path of a CSV file to analyze. Uses a separate instant-analysis chat that lives only as long as this server.")),
		mcp.WithBoolean("instant",
			mcp.Description("Ask a follow-up in the instant-analysis chat without passing file_path again; the chat's file is reused")),
	)
	s.AddTool(askTool, makeAskHandler(a))

	listTool := mcp.NewTool("list_chats",
		mcp.WithDescription("List saved chats, most recently active first, optionally filtered"),
		mcp.WithString("query",
			mcp.Description("Search text; supports role:user|assistant|error, has:sql, after:<date>, before:<date>")),
		mcp.WithNumber("limit",
			mcp.Description("Max chats to return (default: 20)")),
	)
	s.AddTool(listTool, makeListChatsHandler(a))

	getTool := mcp.NewTool("get_chat",
		mcp.WithDescription("Retrieve all messages of a saved chat"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat id from list_chats")),
	)
	s.AddTool(getTool, makeGetChatHandler(a))

	newTool := mcp.NewTool("new_chat",
		mcp.WithDescription("Start a new empty chat. Does nothing if the current chat is already empty."),
	)
	s.AddTool(newTool, makeNewChatHandler(a))

	switchTool := mcp.NewTool("switch_chat",
		mcp.WithDescription("Make a saved chat current so the next question continues it"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat id from list_chats")),
	)
	s.AddTool(switchTool, makeSwitchChatHandler(a))

	return s
}

// StartServer serves the tools over stdio until stdin closes
func StartServer(a *app.App, version string) error {
	return server.ServeStdio(NewServer(a, version))
}

func decodeArgs(request mcp.CallToolRequest, v any) error {
	argsBytes, _ := json.Marshal(request.Params.Arguments)
	return json.Unmarshal(argsBytes, v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	resultJSON, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcp.NewToolResultText(string(resultJSON)), nil
}

func makeAskHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args AskArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		flow := a.Chat
		if args.Instant || args.FilePath != "" {
			flow = a.Instant
		}

		var upload *models.Upload
		if args.FilePath != "" {
			up, err := models.ReadUpload(args.FilePath)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to read file: %v", err)), nil
			}
			upload = up
		}

		if args.NewChat {
			flow.Chat.StartNewSession(ctx)
		}

		call, err := flow.Pipeline.Begin(ctx, args.Question, upload)
		if err != nil {
			return mcp.NewToolResultError(submitErrorText(err)), nil
		}
		reply, err := flow.Pipeline.Complete(ctx, call, call.Do(ctx))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to record reply: %v", err)), nil
		}

		if reply.Role == models.RoleError {
			return mcp.NewToolResultError(reply.Content), nil
		}

		return jsonResult(AskResult{
			ChatID:  call.SessionID,
			Reply:   messageDetail(reply),
			Dataset: flow.Pipeline.Dataset(),
		})
	}
}

func submitErrorText(err error) string {
	switch {
	case errors.Is(err, submit.ErrEmptyQuery):
		return "question is required"
	case errors.Is(err, submit.ErrMessageLimit):
		return submit.MessageLimitText + " Pass new_chat=true."
	case errors.Is(err, submit.ErrBusy):
		return "another question is still being answered; try again when it completes"
	case errors.Is(err, submit.ErrNoFile):
		return "file_path is required for the first question of an instant-analysis chat"
	case errors.Is(err, submit.ErrFileStore):
		return submit.FileStoreText
	default:
		return err.Error()
	}
}

func makeListChatsHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ListChatsArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		// Set defaults (interface concern - pagination)
		limit := args.Limit
		if limit <= 0 {
			limit = 20
		}

		ctrl := a.Chat.Chat
		current := ctrl.CurrentIndex()
		matches := search.Filter(ctrl.Sessions(), search.ParseQuery(args.Query))

		results := []ChatSummary{}
		for _, m := range matches {
			if len(results) >= limit {
				break
			}
			results = append(results, ChatSummary{
				ChatID:       m.Session.ID,
				Number:       m.Index + 1,
				Title:        m.Session.Title(),
				UpdatedAt:    m.Session.UpdatedAt().Format(time.RFC3339),
				MessageCount: len(m.Session.Messages),
				Current:      m.Index == current,
				Snippet:      m.Snippet,
			})
		}

		return jsonResult(map[string]interface{}{
			"chats": results,
			"total": len(matches),
		})
	}
}

func makeGetChatHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ChatArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		ctrl := a.Chat.Chat
		sess, _, ok := ctrl.SessionByID(strings.TrimSpace(args.ChatID))
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("chat not found: %s", args.ChatID)), nil
		}

		detail := ChatDetail{
			ChatID:    sess.ID,
			Title:     sess.Title(),
			CreatedAt: sess.CreatedAt.Format(time.RFC3339),
			Messages:  []MessageDetail{},
			Remaining: ctrl.MaxMessages() - len(sess.Messages),
		}
		for _, m := range sess.Messages {
			detail.Messages = append(detail.Messages, messageDetail(m))
		}
		return jsonResult(detail)
	}
}

func makeNewChatHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctrl := a.Chat.Chat
		started := ctrl.StartNewSession(ctx)
		return jsonResult(map[string]interface{}{
			"started": started,
			"chat_id": ctrl.ActiveSessionID(),
		})
	}
}

func makeSwitchChatHandler(a *app.App) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args ChatArgs
		if err := decodeArgs(request, &args); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}

		ctrl := a.Chat.Chat
		_, idx, ok := ctrl.SessionByID(strings.TrimSpace(args.ChatID))
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("chat not found: %s", args.ChatID)), nil
		}
		if err := ctrl.SwitchSession(ctx, idx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("switch failed: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{
			"chat_id":   args.ChatID,
			"remaining": ctrl.Remaining(),
		})
	}
}

func messageDetail(m models.Message) MessageDetail {
	d := MessageDetail{
		Role:              string(m.Role),
		Content:           m.DisplayContent(),
		SQLQuery:          m.SQLQuery,
		Table:             m.Table,
		AnalysisStatement: m.AnalysisStatement,
		HasChart:          !m.AnalysisPlot.Empty() || len(m.Chart) > 0,
	}
	if !m.Timestamp.IsZero() {
		d.Timestamp = m.Timestamp.Format(time.RFC3339)
	}
	return d
}
