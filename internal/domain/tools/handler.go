package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/careloop/careloop/internal/domain/task"
	"github.com/careloop/careloop/internal/platform/eventgrid"
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32000
)

// DocumentFetcher reads a DocumentReference resource by id.
type DocumentFetcher interface {
	GetDocumentReference(ctx context.Context, documentID string) (map[string]interface{}, error)
}

// TaskUpserter normalizes and persists a task payload, returning its id.
type TaskUpserter interface {
	Upsert(ctx context.Context, payload map[string]interface{}) (string, error)
}

// EventEmitter publishes a downstream event.
type EventEmitter interface {
	Emit(ctx context.Context, eventType, subject string, data map[string]interface{}) (eventgrid.Result, error)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Handler dispatches the JSON-RPC tool surface.
type Handler struct {
	docs    DocumentFetcher
	tasks   TaskUpserter
	emitter EventEmitter
	log     zerolog.Logger
}

func NewHandler(docs DocumentFetcher, tasks TaskUpserter, emitter EventEmitter, log zerolog.Logger) *Handler {
	return &Handler{docs: docs, tasks: tasks, emitter: emitter, log: log}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/rpc", h.PostRPC)
}

func (h *Handler) PostRPC(c echo.Context) error {
	var req rpcRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeParseError, Message: "parse error"},
		})
	}

	result, rpcErr := h.dispatch(c.Request().Context(), req.Method, req.Params)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		h.log.Warn().
			Str("method", req.Method).
			Int("code", rpcErr.Code).
			Str("message", rpcErr.Message).
			Msg("tool call failed")
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "tools/get_fhir_document":
		return h.getFHIRDocument(ctx, params)
	case "tools/upsert_task":
		return h.upsertTask(ctx, params)
	case "tools/emit_eventgrid":
		return h.emitEventGrid(ctx, params)
	case "tools/phi_scrub":
		return h.phiScrub(params)
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}
}

func (h *Handler) getFHIRDocument(ctx context.Context, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		PatientID   string `json:"patientId"`
		EncounterID string `json:"encounterId"`
		DocumentID  string `json:"documentId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if p.DocumentID == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "documentId is required"}
	}

	document, err := h.docs.GetDocumentReference(ctx, p.DocumentID)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return document, nil
}

func (h *Handler) upsertTask(ctx context.Context, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		TaskJSON map[string]interface{} `json:"taskJson"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if p.TaskJSON == nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "taskJson is required"}
	}

	taskID, err := h.tasks.Upsert(ctx, p.TaskJSON)
	if err != nil {
		// Rejected payloads report invalid params; store failures stay internal.
		if errors.Is(err, task.ErrValidation) {
			return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
		}
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return map[string]string{"taskId": taskID}, nil
}

func (h *Handler) emitEventGrid(ctx context.Context, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		EventType string                 `json:"eventType"`
		Subject   string                 `json:"subject"`
		Data      map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	if p.EventType == "" || p.Subject == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "eventType and subject are required"}
	}

	result, err := h.emitter.Emit(ctx, p.EventType, p.Subject, p.Data)
	if err != nil {
		return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
	}
	return result, nil
}

// phiScrub masks medical record numbers in free text. Demo-grade.
func (h *Handler) phiScrub(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params"}
	}
	return strings.ReplaceAll(p.Text, "MRN:", "MRN:***"), nil
}
