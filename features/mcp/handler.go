package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"protoqa/features/assistant"
	"protoqa/internal/middleware"
	"protoqa/internal/retrieval"
)

const (
	ToolAsk    = "protocol_ask"
	ToolSearch = "protocol_search"
	ToolStatus = "protocol_status"
)

type Assistant interface {
	Ask(ctx context.Context, question string) (*assistant.Reply, error)
	Search(ctx context.Context, question string) ([]retrieval.EvidenceItem, error)
	Status(ctx context.Context) (*assistant.Status, error)
}

type Handler struct {
	assistant    Assistant
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(a Assistant) *Handler {
	return &Handler{
		assistant: a,
		sessions:  make(map[string]chan string),
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type QuestionArgs struct {
	Question string `json:"question"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

var questionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"question": map[string]interface{}{
			"type":        "string",
			"description": "A natural-language question about the loaded protocol",
		},
	},
	"required": []string{"question"},
}

var tools = []Tool{
	{
		Name: ToolAsk,
		Description: `Answers a question about the loaded clinical trial protocol and cites the pages used.

Use this for questions about objectives, eligibility, dosing, safety monitoring, endpoints or study design.
The answer comes with its page sources and the evidence passages it was built from.

EXAMPLE:
protocol_ask(question="What are the exclusion criteria?")`,
		InputSchema: questionSchema,
	},
	{
		Name: ToolSearch,
		Description: `Returns the three most relevant protocol passages for a question, without composing an answer.

Use this to read the protocol text directly or to check what an answer was based on.

EXAMPLE:
protocol_search(question="dose escalation")`,
		InputSchema: questionSchema,
	},
	{
		Name:        ToolStatus,
		Description: `Reports whether a protocol is loaded, how many chunks are indexed and whether the generation model is warm.`,
		InputSchema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{}},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "protoqa-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			resp := makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
			return &resp
		}
		return h.callTool(ctx, req.ID, params)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	resp := makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
	return &resp
}

func (h *Handler) callTool(ctx context.Context, id interface{}, params CallParams) *JSONRPCResponse {
	var (
		text string
		err  error
	)
	switch params.Name {
	case ToolAsk, ToolSearch:
		var args QuestionArgs
		if len(params.Arguments) > 0 {
			if err := json.Unmarshal(params.Arguments, &args); err != nil {
				slog.WarnContext(ctx, "invalid tool arguments", "tool", params.Name, "error", err)
				resp := makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
				return &resp
			}
		}
		if strings.TrimSpace(args.Question) == "" {
			resp := makeErrorResponse(id, ErrInvalidParams, "Question is required")
			return &resp
		}
		if params.Name == ToolAsk {
			text, err = h.ask(ctx, args.Question)
		} else {
			text, err = h.search(ctx, args.Question)
		}
	case ToolStatus:
		text, err = h.status(ctx)
	default:
		slog.WarnContext(ctx, "method not found", "method", params.Name)
		resp := makeErrorResponse(id, ErrMethodNotFound, "Method not found: "+params.Name)
		return &resp
	}

	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyQuestion) {
			resp := makeErrorResponse(id, ErrInvalidParams, err.Error())
			return &resp
		}
		slog.ErrorContext(ctx, "tool execution failed", "tool", params.Name, "error", err)
		resp := makeErrorResponse(id, ErrInternal, "Tool failed: "+err.Error())
		return &resp
	}

	slog.InfoContext(ctx, "tool execution completed", "tool", params.Name)
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  ToolResult{Content: []ToolContent{{Type: "text", Text: text}}},
	}
}

func (h *Handler) ask(ctx context.Context, question string) (string, error) {
	reply, err := h.assistant.Ask(ctx, question)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(reply.Answer.Answer)
	if len(reply.Sources) > 0 {
		fmt.Fprintf(&b, "\n\nSources: %s", strings.Join(reply.Sources, ", "))
	}
	fmt.Fprintf(&b, "\nMethod: %s", reply.Method)
	return b.String(), nil
}

func (h *Handler) search(ctx context.Context, question string) (string, error) {
	items, err := h.assistant.Search(ctx, question)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, it := range items {
		fmt.Fprintf(&b, "Result %d (Relevance: %.2f):\n", i+1, it.RelevanceScore)
		fmt.Fprintf(&b, "Source: %s\n", it.SourceLabel)
		fmt.Fprintf(&b, "Content:\n%s\n", it.Text)
		b.WriteString("\n---\n")
	}
	b.WriteString("\nUse protocol_ask(question=\"...\") for a composed answer with citations.\n")
	return b.String(), nil
}

func (h *Handler) status(ctx context.Context) (string, error) {
	st, err := h.assistant.Status(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Status: %s\nIndexed chunks: %d\nModel ready: %t", st.Status, st.VectorCount, st.ModelReady), nil
}

func makeErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.InfoContext(r.Context(), "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, nil, ErrParse, "Parse error")
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp != nil {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// HandleSSE establishes the SSE connection and manages the session
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	w.(http.Flusher).Flush()

	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	w.(http.Flusher).Flush()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			w.(http.Flusher).Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts POST messages associated with a session
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "mcp message received", "method", r.Method, "path", r.URL.Path)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		slog.WarnContext(ctx, "missing sessionId in message request")
		h.writeHttpError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId", correlationID)
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()

	if !exists {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		h.writeHttpError(w, http.StatusNotFound, "NOT_FOUND", "Session not found", correlationID)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.WarnContext(ctx, "invalid json in message request", "error", err)
		h.writeHttpError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON", correlationID)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keeps the correlation id but outlives the POST.
	bgCtx := context.WithoutCancel(ctx)

	go func() {
		resp := h.processRequest(bgCtx, req)
		if resp == nil {
			return
		}

		respBytes, err := json.Marshal(resp)
		if err != nil {
			slog.ErrorContext(bgCtx, "failed to marshal response", "error", err)
			return
		}
		h.deliver(bgCtx, sessionID, string(respBytes))
	}()
}

// deliver sends msg to a live session. The session may have ended while the
// request was processed.
func (h *Handler) deliver(ctx context.Context, sessionID, msg string) {
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()

	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session ended before response was delivered", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- msg:
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC over HTTP reports errors in the body with 200 OK.
	w.WriteHeader(http.StatusOK)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) writeHttpError(w http.ResponseWriter, status int, code string, message string, correlationID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"status": "error",
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": correlationID,
	}
	json.NewEncoder(w).Encode(resp)
}
