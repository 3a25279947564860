package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
)

// maxAuthBodySize bounds every auth request body.
const maxAuthBodySize = 4 << 10

var (
	errContentType = errors.New("content type is not application/json")
	errBodyTooBig  = errors.New("request body too large")
	errTrailing    = errors.New("unexpected data after JSON body")
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeInternalError logs the real cause and returns a generic, localised
// 500 to the client.
func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	a.audit.log(AuditInternalError, r, a.clientIP(r),
		slog.String("op", what),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, message(r, msgInternal))
}

// decodeJSON reads a single JSON object of type T from a body of at most
// limit bytes. The request must declare Content-Type application/json.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, error) {
	var v T
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return v, errContentType
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(&v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return v, errBodyTooBig
		}
		return v, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return v, errTrailing
	}
	return v, nil
}
