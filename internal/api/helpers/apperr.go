package helpers

import (
	"log/slog"
	"net/http"

	"github.com/nullstack-id/identitycore/internal/apperr"
)

// errorBody is the wire shape every handler error response takes:
// {code, message, request_id, fields?}.
type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// RespondAppError maps err to the client-visible error body and HTTP
// status. Anything that isn't an *apperr.Error is folded into
// CodeInternal so a bare storage or programming error never leaks a
// driver message to a client.
func RespondAppError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		slog.ErrorContext(r.Context(), "unhandled error", "error", err, "path", r.URL.Path)
		ae = apperr.Wrap(apperr.CodeInternal, "internal error", err)
	}
	body := errorBody{
		Code:      string(ae.Code),
		Message:   ae.Message,
		RequestID: r.Header.Get("X-Request-Id"),
	}
	if len(ae.Details) > 0 {
		body.Fields = ae.Details
	}
	RespondJSON(w, ae.HTTPStatus(), body)
}
