// Package submit turns a typed question into a user message, one backend
// call and exactly one reply message.
package submit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/neilberkman/querychat/internal/core/backend"
	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/rs/zerolog"
)

// Flow names
const (
	FlowChat    = "chat"
	FlowInstant = "instant"
)

// Messages shown to the user for refused submissions
const (
	MessageLimitText = "Maximum message limit reached. Please start a new chat to continue."
	NoFileText       = "Please upload a file to proceed or start a new chat"
	FileStoreText    = "Could not store the file. It may be too large."
)

var (
	ErrEmptyQuery   = errors.New("query is empty")
	ErrMessageLimit = errors.New(MessageLimitText)
	ErrBusy         = errors.New("a query is already in progress")
	ErrNoFile       = errors.New(NoFileText)
	ErrFileStore    = errors.New(FileStoreText)
)

// Backend is the analytics server as seen by the pipeline
type Backend interface {
	AskText(ctx context.Context, req backend.Request) (*backend.Response, error)
	AskFile(ctx context.Context, req backend.Request, file models.Upload) (*backend.Response, error)
}

// Options configures a Pipeline
type Options struct {
	// FileMode sends every query with a data file (instant analysis)
	FileMode bool

	// BaseURL is named in the connectivity error message
	BaseURL string

	// ErrorTemplate is a mustache template with {{base_url}}
	ErrorTemplate string

	Metrics *Metrics
	Log     zerolog.Logger
}

// Pipeline submits queries for one chat flow. One query may be in flight
// at a time.
type Pipeline struct {
	chat    *chat.Controller
	backend Backend
	opts    Options

	mu      sync.Mutex
	pending bool
	dataset string
}

// New creates a pipeline over ctrl that talks to b
func New(ctrl *chat.Controller, b Backend, opts Options) (*Pipeline, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = backend.DefaultBaseURL
	}
	if opts.ErrorTemplate == "" {
		opts.ErrorTemplate = "Failed to connect to the server. Please ensure it is running at {{base_url}}"
	}
	if _, err := mustache.ParseString(opts.ErrorTemplate); err != nil {
		return nil, fmt.Errorf("failed to parse error template: %w", err)
	}

	return &Pipeline{
		chat:    ctrl,
		backend: b,
		opts:    opts,
	}, nil
}

// Chat returns the controller the pipeline appends to
func (p *Pipeline) Chat() *chat.Controller {
	return p.chat
}

// Flow returns the metrics label of this pipeline
func (p *Pipeline) Flow() string {
	if p.opts.FileMode {
		return FlowInstant
	}
	return FlowChat
}

// Pending reports whether a query awaits its reply
func (p *Pipeline) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Dataset returns the CSV rows of the latest successful reply
func (p *Pipeline) Dataset() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataset
}

// Call is a dispatched query awaiting its HTTP exchange
type Call struct {
	SessionID string
	Query     string
	History   []models.HistoryEntry
	File      *models.Upload

	backend Backend
}

// Result is the outcome of Call.Do
type Result struct {
	Response *backend.Response
	Err      error
	Duration time.Duration
}

// Do performs the HTTP exchange. It touches no pipeline state so it can
// run outside an event loop.
func (c *Call) Do(ctx context.Context) Result {
	req := backend.Request{Query: c.Query, ChatHistory: c.History}
	start := time.Now()

	var (
		resp *backend.Response
		err  error
	)
	if c.File != nil {
		resp, err = c.backend.AskFile(ctx, req, *c.File)
	} else {
		resp, err = c.backend.AskText(ctx, req)
	}
	return Result{Response: resp, Err: err, Duration: time.Since(start)}
}

// Begin validates the query, appends the user message and enters the
// pending state. file is only used in file mode; nil reuses the file cached
// for the active chat.
func (p *Pipeline) Begin(ctx context.Context, query string, file *models.Upload) (*Call, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	p.mu.Lock()
	if p.pending {
		p.mu.Unlock()
		return nil, ErrBusy
	}
	p.pending = true
	p.mu.Unlock()

	call, err := p.begin(ctx, query, file)
	if err != nil {
		p.release()
		p.opts.Metrics.observe(p.Flow(), OutcomeRejected, 0)
		return nil, err
	}

	p.opts.Metrics.inFlight(1)
	return call, nil
}

func (p *Pipeline) begin(ctx context.Context, query string, file *models.Upload) (*Call, error) {
	// Room for the question and its reply
	if p.chat.Remaining() < 2 {
		return nil, ErrMessageLimit
	}

	var upload *models.Upload
	if p.opts.FileMode {
		sessionID := p.chat.ActiveSessionID()
		files := p.chat.Store()

		if file != nil {
			if err := files.PutFile(ctx, sessionID, *file); err != nil {
				p.opts.Log.Warn().Err(err).Str("file", file.Name).Msg("Failed to store file")
				return nil, fmt.Errorf("%w: %v", ErrFileStore, err)
			}
			upload = file
		} else {
			cached, ok := files.File(ctx, sessionID)
			if !ok {
				return nil, ErrNoFile
			}
			p.opts.Log.Debug().Str("file", cached.Name).Str("session", sessionID).Msg("Using stored file")
			upload = cached
		}
	}

	ex, err := p.chat.StartExchange(ctx, models.NewMessage(models.RoleUser, query))
	if err != nil {
		if errors.Is(err, chat.ErrSessionFull) {
			return nil, ErrMessageLimit
		}
		return nil, err
	}

	return &Call{
		SessionID: ex.SessionID,
		Query:     query,
		History:   models.History(ex.History),
		File:      upload,
		backend:   p.backend,
	}, nil
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.pending = false
	p.mu.Unlock()
}

// Complete appends the reply for call to the chat it was asked in and
// leaves the pending state.
func (p *Pipeline) Complete(ctx context.Context, call *Call, res Result) (models.Message, error) {
	defer p.release()
	defer p.opts.Metrics.inFlight(-1)

	if res.Err == nil && res.Response == nil {
		res.Err = errors.New("empty response")
	}

	var msg models.Message
	if res.Err != nil {
		p.opts.Log.Error().Err(res.Err).Str("session", call.SessionID).Msg("Query failed")
		msg = models.NewMessage(models.RoleError, p.connectivityError())
		p.opts.Metrics.observe(p.Flow(), OutcomeFailure, res.Duration)
	} else {
		msg = ReplyMessage(res.Response)
		// Replies without rows keep the previous dataset exportable
		if res.Response.CSVData != "" {
			p.mu.Lock()
			p.dataset = res.Response.CSVData
			p.mu.Unlock()
		}
		p.opts.Metrics.observe(p.Flow(), OutcomeSuccess, res.Duration)
	}

	if err := p.chat.AppendToSession(ctx, call.SessionID, msg); err != nil {
		return msg, fmt.Errorf("failed to append reply: %w", err)
	}
	return msg, nil
}

// Submit runs Begin, Do and Complete in sequence
func (p *Pipeline) Submit(ctx context.Context, query string, file *models.Upload) (models.Message, error) {
	call, err := p.Begin(ctx, query, file)
	if err != nil {
		return models.Message{}, err
	}
	return p.Complete(ctx, call, call.Do(ctx))
}

func (p *Pipeline) connectivityError() string {
	text, err := mustache.Render(p.opts.ErrorTemplate, map[string]string{
		"base_url": p.opts.BaseURL,
	})
	if err != nil {
		return "Failed to connect to the server. Please ensure it is running at " + p.opts.BaseURL
	}
	return text
}

// ReplyMessage maps a server response onto an assistant message
func ReplyMessage(resp *backend.Response) models.Message {
	content := resp.Output
	if content == "" {
		content = resp.SQLQuery
	}

	msg := models.NewMessage(models.RoleAssistant, content)
	msg.SQLQuery = resp.SQLQuery
	msg.Table = resp.TableHTML()
	msg.AnalysisStatement = resp.AnalysisStatement
	if !resp.AnalysisPlot.Empty() {
		msg.AnalysisPlot = resp.AnalysisPlot
	}
	if resp.ResponseType == backend.ResponseTypeVisualization {
		msg.Chart = resp.Raw
	}
	return msg
}
