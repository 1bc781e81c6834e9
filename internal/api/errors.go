package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"arxivchat/internal/chat"
	"arxivchat/internal/util"
)

type apiError struct {
	Code        string
	Kind        string
	Message     string
	Consistency util.Consistency
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, util.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, util.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, util.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, chat.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, util.ErrExternalUnavailable),
		errors.Is(err, util.ErrMalformedResponse),
		errors.Is(err, util.ErrInsightFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, util.ErrIngestionFailure):
		return "ingestion_failure"
	case errors.Is(err, util.ErrPartialInsightFailure):
		return "partial_insight_failure"
	case errors.Is(err, util.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, util.ErrExternalUnavailable):
		return "external_unavailable"
	case errors.Is(err, util.ErrInsightFailed):
		return "insight_failed"
	case errors.Is(err, util.ErrNotFound):
		return "not_found"
	case errors.Is(err, util.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, util.ErrSessionBusy):
		return "session_busy"
	}
	return ""
}

func toAPIError(status int, err error) apiError {
	out := apiError{Code: "AC-API-4000", Message: "Request failed.", Kind: kindOf(err), Consistency: util.ConsistencyUnchanged}
	if err != nil {
		out.Consistency = util.ConsistencyOf(err)
	}
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case out.Kind == "ingestion_failure":
		out.Code, out.Message = "AC-ING-5001", "Paper ingestion failed. Re-ingest the paper."
		return out
	case out.Kind == "malformed_response":
		out.Code, out.Message = "AC-LLM-5021", "The language model returned an unusable response. Nothing was changed; retry."
		return out
	case out.Kind == "insight_failed":
		out.Code, out.Message = "AC-LLM-5022", "Insight generation failed. No insight was stored; retry."
		return out
	case out.Kind == "external_unavailable" || status == http.StatusBadGateway:
		out.Code, out.Message = "AC-API-5020", "Upstream service unavailable. Nothing was changed; retry shortly."
		return out
	case status == http.StatusGatewayTimeout:
		out.Code, out.Message = "AC-API-5040", "Upstream call timed out. Nothing was changed; retry."
		return out
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			out.Code, out.Message = "AC-DB-5001", "Database schema is not initialized. Run migrations and retry."
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			out.Code, out.Message = "AC-DB-5002", "Database connection is unavailable. Check local services and retry."
		default:
			out.Code, out.Message = "AC-API-5000", "Internal server error. Please retry or check service logs."
		}
		return out
	case status == http.StatusBadRequest:
		out.Code, out.Message = "AC-API-4001", "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		out.Code, out.Message = "AC-API-4004", "Requested resource was not found."
	case status == http.StatusConflict:
		out.Code, out.Message = "AC-API-4009", "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusGone:
		out.Code, out.Message = "AC-CHAT-4010", "Chat session is closed. Open a new session."
	case status == http.StatusMethodNotAllowed:
		out.Code, out.Message = "AC-API-4005", "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "invalid json"):
			out.Message = "Malformed JSON request body."
		case strings.Contains(raw, "is required"), strings.Contains(raw, "must be"),
			strings.Contains(raw, "only pdf"), strings.Contains(raw, "no files provided"),
			strings.Contains(raw, "already running"), strings.Contains(raw, "uploaded papers"):
			out.Message = sentence(err.Error())
		case errors.Is(err, chat.ErrEmptyQuery):
			out.Message = "Query must not be empty."
		case errors.Is(err, util.ErrSessionBusy):
			out.Message = "Another message for this session is still being answered."
		}
	}
	return out
}

func sentence(s string) string {
	if i := strings.Index(s, ": "); i > 0 {
		s = s[:i]
	}
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
