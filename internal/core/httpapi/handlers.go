package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/solatis/matchkeeper/internal/contextstore"
	"github.com/solatis/matchkeeper/internal/core/api"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

// handleEvaluate processes POST /v1/evaluate. The body is the record as a
// JSON object; the response carries the outcome and the record with its ID.
func (a *API) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, types.MaxRecordSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    CodeTooLarge,
				Message: types.ErrRecordTooLarge.Error(),
			})
			return
		}
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidJSON, Message: err.Error()})
		return
	}

	rec, err := types.DecodeRecord(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidJSON, Message: err.Error()})
		return
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	out, err := a.matcher.Process(ctx, rec)
	if err != nil {
		a.writeRecordError(w, r, err)
		return
	}

	resp := api.OutcomeFields(rec, out)
	resp["record"] = rec
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// writeRecordError maps evaluation errors: timeouts are 504, cancellation
// 503, record-level failures 422, anything else 500. Context errors come
// first since store failures are wrapped in ErrResolution.
func (a *API) writeRecordError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Message: err.Error()}
	var recErr *rules.RecordError
	if errors.As(err, &recErr) {
		resp.Rule = recErr.Rule
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		resp.Code = CodeTimeout
		writeError(w, r, http.StatusGatewayTimeout, resp)
	case errors.Is(err, context.Canceled):
		resp.Code = CodeCanceled
		writeError(w, r, http.StatusServiceUnavailable, resp)
	case errors.Is(err, types.ErrResolution),
		errors.Is(err, types.ErrUnknownOperator),
		errors.Is(err, types.ErrInvalidPattern):
		resp.Code = CodeRecord
		writeError(w, r, http.StatusUnprocessableEntity, resp)
	default:
		resp.Code = CodeInternal
		writeError(w, r, http.StatusInternalServerError, resp)
	}
}

// handleRules processes GET /v1/rules.
func (a *API) handleRules(w http.ResponseWriter, r *http.Request) {
	list := a.matcher.Rules()
	resp := make([]RuleResponse, len(list))
	for i, rule := range list {
		resp[i] = newRuleResponse(i, rule)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"rules": resp})
}

func (a *API) scopeStore(w http.ResponseWriter, r *http.Request) (string, contextstore.Store, bool) {
	scope := chi.URLParam(r, "scope")
	store, ok := a.stores[scope]
	if !ok {
		writeError(w, r, http.StatusNotFound, ErrorResponse{
			Code:    CodeNotFound,
			Message: "unknown context scope " + scope,
		})
	}
	return scope, store, ok
}

// handleListContext processes GET /v1/context/{scope}.
func (a *API) handleListContext(w http.ResponseWriter, r *http.Request) {
	scope, store, ok := a.scopeStore(w, r)
	if !ok {
		return
	}
	keys, err := store.Keys(r.Context())
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"scope": scope, "keys": keys})
}

// handleGetContext processes GET /v1/context/{scope}/{key}.
func (a *API) handleGetContext(w http.ResponseWriter, r *http.Request) {
	_, store, ok := a.scopeStore(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	v, err := store.Get(r.Context(), key)
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	if v == nil {
		writeError(w, r, http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: "context key not set: " + key})
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"key": key, "value": v})
}

// handlePutContext processes PUT /v1/context/{scope}/{key}. The body is
// the raw JSON value; null deletes the key.
func (a *API) handlePutContext(w http.ResponseWriter, r *http.Request) {
	_, store, ok := a.scopeStore(w, r)
	if !ok {
		return
	}
	var v any
	if err := render.DecodeJSON(http.MaxBytesReader(w, r.Body, types.MaxRecordSize), &v); err != nil {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidJSON, Message: "Invalid JSON payload: " + err.Error()})
		return
	}
	if err := store.Set(r.Context(), chi.URLParam(r, "key"), v); err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteContext processes DELETE /v1/context/{scope}/{key}.
func (a *API) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	_, store, ok := a.scopeStore(w, r)
	if !ok {
		return
	}
	if err := store.Set(r.Context(), chi.URLParam(r, "key"), nil); err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, contextstore.ErrInvalidKey) {
		writeError(w, r, http.StatusBadRequest, ErrorResponse{Code: CodeInvalidInput, Message: err.Error()})
		return
	}
	a.logger.Error("context store failed", "error", err)
	writeError(w, r, http.StatusInternalServerError, ErrorResponse{Code: CodeInternal, Message: "context store unavailable"})
}
