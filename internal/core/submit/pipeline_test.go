package submit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/neilberkman/querychat/internal/core/backend"
	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/db"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	requests []backend.Request
	files    []models.Upload
	resp     *backend.Response
	err      error
}

func (f *fakeBackend) AskText(_ context.Context, req backend.Request) (*backend.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func (f *fakeBackend) AskFile(_ context.Context, req backend.Request, file models.Upload) (*backend.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.requests = append(f.requests, req)
	f.files = append(f.files, file)
	return f.resp, f.err
}

func storesResponse() *backend.Response {
	return &backend.Response{
		Output:   "5 stores",
		SQLQuery: "SELECT COUNT(*) FROM stores",
		CSVData:  "count\n5\n",
	}
}

func newPipeline(t *testing.T, fileMode bool, b Backend, metrics *Metrics) *Pipeline {
	t.Helper()

	database, err := db.NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	keys := store.DurableKeys
	if fileMode {
		keys = store.InstantKeys
	}
	st := store.New(database.KV(db.ScopeSession), keys, logger.Nop())
	ctrl := chat.New(context.Background(), st, logger.Nop(), chat.DefaultMaxMessages)

	p, err := New(ctrl, b, Options{
		FileMode: fileMode,
		BaseURL:  "http://127.0.0.1:8000",
		Metrics:  metrics,
		Log:      logger.Nop(),
	})
	require.NoError(t, err)
	return p
}

func TestSubmitSuccess(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	reply, err := p.Submit(ctx, "How many stores?", nil)
	require.NoError(t, err)

	msgs := p.Chat().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "How many stores?", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "5 stores", msgs[1].Content)
	assert.Equal(t, "SELECT COUNT(*) FROM stores", msgs[1].SQLQuery)
	assert.Equal(t, reply.ID, msgs[1].ID)

	assert.Equal(t, "count\n5\n", p.Dataset())
	assert.False(t, p.Pending())
	assert.Equal(t, 1, fb.calls)
	assert.Empty(t, fb.requests[0].ChatHistory)
}

func TestSubmitSendsPriorHistory(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	_, err := p.Submit(ctx, "first", nil)
	require.NoError(t, err)
	_, err = p.Submit(ctx, "second", nil)
	require.NoError(t, err)

	require.Len(t, fb.requests, 2)
	assert.Equal(t, []models.HistoryEntry{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "5 stores"},
	}, fb.requests[1].ChatHistory)
}

func TestSubmitNetworkFailure(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{err: errors.New("connection refused")}
	p := newPipeline(t, false, fb, nil)

	reply, err := p.Submit(ctx, "How many stores?", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RoleError, reply.Role)

	msgs := p.Chat().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleError, msgs[1].Role)
	assert.Equal(t, "Failed to connect to the server. Please ensure it is running at http://127.0.0.1:8000", msgs[1].Content)
	assert.False(t, p.Pending())
	assert.Equal(t, 1, fb.calls, "no retry")
}

func TestDatasetKeptWhenReplyHasNone(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	_, err := p.Submit(ctx, "How many stores?", nil)
	require.NoError(t, err)
	require.Equal(t, "count\n5\n", p.Dataset())

	fb.resp = &backend.Response{Output: "Stores are grouped into three types."}
	_, err = p.Submit(ctx, "What store types are there?", nil)
	require.NoError(t, err)
	assert.Equal(t, "count\n5\n", p.Dataset())

	// Failures leave it alone too
	fb.resp, fb.err = nil, errors.New("down")
	_, err = p.Submit(ctx, "again", nil)
	require.NoError(t, err)
	assert.Equal(t, "count\n5\n", p.Dataset())
}

func TestSubmitKeepsRawQueryText(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	_, err := p.Submit(ctx, "  How many stores?\n", nil)
	require.NoError(t, err)

	msgs := p.Chat().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "  How many stores?\n", msgs[0].Content)
	require.Len(t, fb.requests, 1)
	assert.Equal(t, "  How many stores?\n", fb.requests[0].Query)
}

func TestSubmitEmptyQuery(t *testing.T) {
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := p.Submit(context.Background(), q, nil)
		assert.ErrorIs(t, err, ErrEmptyQuery)
	}
	assert.Empty(t, p.Chat().Messages())
	assert.Zero(t, fb.calls)
	assert.False(t, p.Pending())
}

func TestSubmitMessageLimit(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	for i := 0; i < chat.DefaultMaxMessages/2; i++ {
		_, err := p.Submit(ctx, "q", nil)
		require.NoError(t, err)
	}
	require.Len(t, p.Chat().Messages(), chat.DefaultMaxMessages)

	_, err := p.Submit(ctx, "one more", nil)
	assert.ErrorIs(t, err, ErrMessageLimit)
	assert.Len(t, p.Chat().Messages(), chat.DefaultMaxMessages)
	assert.Equal(t, chat.DefaultMaxMessages/2, fb.calls)
	assert.False(t, p.Pending())
}

func TestBeginWhilePending(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	call, err := p.Begin(ctx, "first", nil)
	require.NoError(t, err)
	assert.True(t, p.Pending())

	_, err = p.Begin(ctx, "second", nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, p.Chat().Messages(), 1)

	_, err = p.Complete(ctx, call, call.Do(ctx))
	require.NoError(t, err)
	assert.False(t, p.Pending())
}

func TestStaleReplyGoesToOriginatingChat(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, nil)

	call, err := p.Begin(ctx, "slow question", nil)
	require.NoError(t, err)

	// User opens a new chat while the request is in flight
	require.True(t, p.Chat().StartNewSession(ctx))

	_, err = p.Complete(ctx, call, call.Do(ctx))
	require.NoError(t, err)

	assert.Empty(t, p.Chat().Messages())
	sess, _, ok := p.Chat().SessionByID(call.SessionID)
	require.True(t, ok)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "5 stores", sess.Messages[1].Content)
}

func TestFileModeStoresAndReusesFile(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, true, fb, nil)

	up := &models.Upload{Name: "sales.csv", Type: "text/csv", Data: []byte("store,sales\n1,100\n")}
	_, err := p.Submit(ctx, "Total sales?", up)
	require.NoError(t, err)

	// Second question without a file reuses the cached one
	_, err = p.Submit(ctx, "Average sales?", nil)
	require.NoError(t, err)

	require.Len(t, fb.files, 2)
	assert.Equal(t, "sales.csv", fb.files[1].Name)
	assert.Equal(t, up.Data, fb.files[1].Data)
}

func TestFileModeWithoutFile(t *testing.T) {
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, true, fb, nil)

	_, err := p.Submit(context.Background(), "Total sales?", nil)
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Empty(t, p.Chat().Messages())
	assert.Zero(t, fb.calls)
	assert.False(t, p.Pending())
}

func TestFileModeFileTooLarge(t *testing.T) {
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, true, fb, nil)
	p.Chat().Store().SetMaxFileBytes(8)

	up := &models.Upload{Name: "big.csv", Data: []byte("far more than eight bytes")}
	_, err := p.Submit(context.Background(), "Total sales?", up)
	assert.ErrorIs(t, err, ErrFileStore)
	assert.Empty(t, p.Chat().Messages())
	assert.Zero(t, fb.calls)
}

func TestNewFileChatNeedsNewFile(t *testing.T) {
	ctx := context.Background()
	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, true, fb, nil)

	up := &models.Upload{Name: "sales.csv", Data: []byte("a\n1\n")}
	_, err := p.Submit(ctx, "q", up)
	require.NoError(t, err)
	require.True(t, p.Chat().StartNewSession(ctx))

	_, err = p.Submit(ctx, "q", nil)
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	fb := &fakeBackend{resp: storesResponse()}
	p := newPipeline(t, false, fb, m)

	_, err := p.Submit(ctx, "q", nil)
	require.NoError(t, err)
	_, err = p.Submit(ctx, " ", nil)
	require.Error(t, err)

	fb.err = errors.New("down")
	_, err = p.Submit(ctx, "q", nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(FlowChat, OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionsTotal.WithLabelValues(FlowChat, OutcomeFailure)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BackendDuration))
}

func TestCustomErrorTemplate(t *testing.T) {
	database, err := db.NewMemory()
	require.NoError(t, err)
	defer database.Close()

	st := store.New(database.KV(db.ScopeSession), store.DurableKeys, logger.Nop())
	ctrl := chat.New(context.Background(), st, logger.Nop(), 0)
	p, err := New(ctrl, &fakeBackend{err: errors.New("down")}, Options{
		BaseURL:       "http://analytics:9000",
		ErrorTemplate: "No analytics server at {{base_url}}",
		Log:           logger.Nop(),
	})
	require.NoError(t, err)

	reply, err := p.Submit(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "No analytics server at http://analytics:9000", reply.Content)
}

func TestSubmitAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output": "", "sql_query": "SELECT 1", "response_type": "visualization"}`)
	}))
	defer srv.Close()

	p := newPipeline(t, false, backend.NewClient(srv.URL, time.Second), nil)
	reply, err := p.Submit(context.Background(), "chart please", nil)
	require.NoError(t, err)

	assert.Equal(t, models.RoleAssistant, reply.Role)
	assert.Equal(t, "SELECT 1", reply.Content)
	assert.Equal(t, "Here are your results", reply.DisplayContent())
	assert.JSONEq(t, `{"output": "", "sql_query": "SELECT 1", "response_type": "visualization"}`, string(reply.Chart))
}

func TestReplyMessage(t *testing.T) {
	tests := []struct {
		name      string
		resp      *backend.Response
		content   string
		wantChart bool
		wantPlot  bool
	}{
		{"output wins", &backend.Response{Output: "5", SQLQuery: "SELECT 5"}, "5", false, false},
		{"sql fallback", &backend.Response{SQLQuery: "SELECT 5"}, "SELECT 5", false, false},
		{"chart only for visualization", &backend.Response{Output: "x", ResponseType: "table", Raw: []byte(`{}`)}, "x", false, false},
		{"visualization", &backend.Response{Output: "x", ResponseType: "visualization", Raw: []byte(`{}`)}, "x", true, false},
		{"plot", &backend.Response{Output: "x", AnalysisPlot: &models.AnalysisPlot{Image: "abc"}}, "x", false, true},
		{"empty plot dropped", &backend.Response{Output: "x", AnalysisPlot: &models.AnalysisPlot{}}, "x", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ReplyMessage(tt.resp)
			assert.Equal(t, models.RoleAssistant, msg.Role)
			assert.Equal(t, tt.content, msg.Content)
			assert.Equal(t, tt.wantChart, msg.Chart != nil)
			assert.Equal(t, tt.wantPlot, msg.AnalysisPlot != nil)
		})
	}
}
