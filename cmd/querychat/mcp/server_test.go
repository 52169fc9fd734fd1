package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/config"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, handler http.HandlerFunc) *app.App {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "querychat.db")
	cfg.BackendURL = srv.URL

	a, err := app.Open(context.Background(), app.Options{Config: cfg, Log: logger.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func storesHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, `{"output": "45 stores", "sql_query": "SELECT COUNT(*) FROM stores", "csv_data": "count\n45\n"}`)
}

func call(t *testing.T, h server.ToolHandlerFunc, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestAskAndGetChat(t *testing.T) {
	a := newTestApp(t, storesHandler)

	res := call(t, makeAskHandler(a), map[string]any{"question": "How many stores?"})
	require.False(t, res.IsError, text(t, res))

	var ask AskResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &ask))
	assert.Equal(t, "45 stores", ask.Reply.Content)
	assert.Equal(t, "SELECT COUNT(*) FROM stores", ask.Reply.SQLQuery)
	assert.Equal(t, "count\n45\n", ask.Dataset)
	require.NotEmpty(t, ask.ChatID)

	res = call(t, makeGetChatHandler(a), map[string]any{"chat_id": ask.ChatID})
	require.False(t, res.IsError)

	var detail ChatDetail
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &detail))
	assert.Equal(t, "How many stores?", detail.Title)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "user", detail.Messages[0].Role)
	assert.Equal(t, 8, detail.Remaining)
}

func TestAskBackendDown(t *testing.T) {
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	res := call(t, makeAskHandler(a), map[string]any{"question": "q"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "Failed to connect to the server")

	// The failure is still recorded in the chat
	assert.Len(t, a.Chat.Chat.Messages(), 2)
}

func TestAskRejections(t *testing.T) {
	a := newTestApp(t, storesHandler)

	res := call(t, makeAskHandler(a), map[string]any{"question": "  "})
	assert.True(t, res.IsError)
	assert.Equal(t, "question is required", text(t, res))

	res = call(t, makeAskHandler(a), map[string]any{"question": "q", "file_path": filepath.Join(t.TempDir(), "missing.csv")})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "failed to read file")
}

func TestAskWithFile(t *testing.T) {
	var gotFile string
	a := newTestApp(t, func(w http.ResponseWriter, r *http.Request) {
		if f, hdr, err := r.FormFile("file"); err == nil {
			gotFile = hdr.Filename
			_ = f.Close()
		}
		storesHandler(w, r)
	})

	path := filepath.Join(t.TempDir(), "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("store,sales\n1,100\n"), 0644))

	res := call(t, makeAskHandler(a), map[string]any{"question": "Total sales?", "file_path": path})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "sales.csv", gotFile)

	// Instant chats do not touch the saved chats
	assert.Len(t, a.Instant.Chat.Messages(), 2)
	assert.Empty(t, a.Chat.Chat.Sessions())

	// A follow-up reuses the stored file
	gotFile = ""
	res = call(t, makeAskHandler(a), map[string]any{"question": "Average sales?", "instant": true})
	require.False(t, res.IsError, text(t, res))
	assert.Equal(t, "sales.csv", gotFile)
	assert.Len(t, a.Instant.Chat.Messages(), 4)
	assert.Empty(t, a.Chat.Chat.Sessions())
}

func TestInstantWithoutFile(t *testing.T) {
	a := newTestApp(t, storesHandler)

	res := call(t, makeAskHandler(a), map[string]any{"question": "Average sales?", "instant": true})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "file_path is required")
	assert.Empty(t, a.Instant.Chat.Messages())
}

// rpc sends one JSON-RPC request through the server and returns the
// response decoded as generic JSON
func rpc(t *testing.T, s *server.MCPServer, request string) map[string]any {
	t.Helper()
	resp := s.HandleMessage(context.Background(), json.RawMessage(request))
	require.NotNil(t, resp)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Nil(t, out["error"], string(raw))
	return out
}

func TestNewServerRegistersTools(t *testing.T) {
	a := newTestApp(t, storesHandler)
	s := NewServer(a, "test")

	rpc(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)

	out := rpc(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	result, ok := out["result"].(map[string]any)
	require.True(t, ok)
	tools, ok := result["tools"].([]any)
	require.True(t, ok)

	var names []string
	for _, tool := range tools {
		names = append(names, tool.(map[string]any)["name"].(string))
	}
	assert.ElementsMatch(t, []string{"ask_data_question", "list_chats", "get_chat", "new_chat", "switch_chat"}, names)

	// Calls go through the registered handlers
	out = rpc(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ask_data_question","arguments":{"question":"How many stores?"}}}`)
	require.NotNil(t, out["result"])
	assert.Len(t, a.Chat.Chat.Messages(), 2)
}

func TestListNewAndSwitch(t *testing.T) {
	a := newTestApp(t, storesHandler)
	ask := makeAskHandler(a)

	call(t, ask, map[string]any{"question": "Show me the total count of Stores"})
	first := a.Chat.Chat.ActiveSessionID()

	res := call(t, makeNewChatHandler(a), nil)
	assert.Contains(t, text(t, res), `"started":true`)
	call(t, ask, map[string]any{"question": "Weekly sales by type"})

	res = call(t, makeListChatsHandler(a), map[string]any{"query": "role:user stores"})
	var list struct {
		Chats []ChatSummary `json:"chats"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, first, list.Chats[0].ChatID)
	assert.False(t, list.Chats[0].Current)

	res = call(t, makeSwitchChatHandler(a), map[string]any{"chat_id": first})
	require.False(t, res.IsError)
	assert.Equal(t, first, a.Chat.Chat.ActiveSessionID())

	res = call(t, makeSwitchChatHandler(a), map[string]any{"chat_id": "nope"})
	assert.True(t, res.IsError)
}
