package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/epressworld/epress-sub000/protocol"
)

// maxBodyBytes bounds every decoded request body.
const maxBodyBytes = 1 << 20

// maxUploadBytes bounds file uploads.
const maxUploadBytes = 64 << 20

func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&v); err != nil {
		return v, protocol.Errorf(protocol.CodeInvalidPayload, "malformed request body: %v", err)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProtocolError emits the raw federation error shape, a bare
// `{"error": CODE}` with the status the code maps to.
func writeProtocolError(w http.ResponseWriter, err error) {
	writeJSON(w, protocol.HTTPStatus(protocol.CodeOf(err)), map[string]string{
		"error": string(protocol.CodeOf(err)),
	})
}

// apiEnvelope is the client API response shape: data or a stable error
// code, never both.
type apiEnvelope struct {
	Data  any       `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    protocol.Code `json:"code"`
	Message string        `json:"message"`
}

func writeAPIData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, apiEnvelope{Data: data})
}

func writeAPIError(w http.ResponseWriter, log *slog.Logger, err error) {
	code := protocol.CodeOf(err)
	if code == protocol.CodeInternal {
		log.Error("request failed", "err", err)
	}
	writeJSON(w, protocol.HTTPStatus(code), apiEnvelope{
		Error: &apiError{Code: code, Message: err.Error()},
	})
}

// pagination is the list envelope shared by the protocol and API
// surfaces.
type pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

type pagedResponse struct {
	Data       any        `json:"data"`
	Pagination pagination `json:"pagination"`
}

func paged(data any, page, limit, total int) pagedResponse {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return pagedResponse{
		Data: data,
		Pagination: pagination{
			Page:        page,
			Limit:       limit,
			Total:       total,
			TotalPages:  totalPages,
			HasNextPage: page < totalPages,
			HasPrevPage: page > 1,
		},
	}
}

// pageParams parses limit/page/since query parameters with the given
// defaults and cap.
func pageParams(r *http.Request, defaultLimit, maxLimit int) (limit, page int, since *time.Time, err error) {
	limit, page = defaultLimit, 1

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, nil, protocol.Errorf(protocol.CodeValidationFailed, "limit must be between 1 and %d", maxLimit)
		}
	}
	if raw := r.URL.Query().Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, nil, protocol.Errorf(protocol.CodeValidationFailed, "page must be a positive integer")
		}
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return 0, 0, nil, protocol.Errorf(protocol.CodeValidationFailed, "since must be an RFC 3339 timestamp")
		}
		since = &ts
	}
	return limit, page, since, nil
}

// bearerToken extracts the credential from an Authorization header;
// missing or non-bearer headers are the empty (anonymous) credential.
func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
