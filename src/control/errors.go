package control

import (
	"encoding/json"
	"net/http"

	"overlaycore/src/model"
)

// errorEnvelope is the `{error: {code, message}}` response shape every
// handler returns on failure, covering the full model.ErrorKind taxonomy.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a model.ErrorKind to an HTTP status and the structured
// error body.
func writeError(w http.ResponseWriter, err error) {
	kind := model.ErrInternal
	message := err.Error()
	if me, ok := err.(*model.Error); ok {
		kind = me.Kind
	}

	status, code := statusForKind(kind)
	body := errorEnvelope{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func statusForKind(kind model.ErrorKind) (int, string) {
	switch kind {
	case model.ErrNotFound:
		return http.StatusNotFound, "not_found"
	case model.ErrUnauthenticated:
		return http.StatusUnauthorized, "unauthenticated"
	case model.ErrUnauthorized:
		return http.StatusForbidden, "unauthorized"
	case model.ErrInvalidArgument:
		return http.StatusBadRequest, "invalid_argument"
	case model.ErrConflict:
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
