package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

const (
	// ContentRejectedError and ContentRejectedMessage are deliberately terse so
	// the response does not reveal which filter matched.
	ContentRejectedError   = "Contenido no permitido"
	ContentRejectedMessage = "La solicitud contiene patrones no permitidos por motivos de seguridad."

	RateLimitError   = "Demasiadas solicitudes"
	RateLimitMessage = "Has excedido el límite de solicitudes. Inténtalo de nuevo en un minuto."

	NotFoundMessage = "Ruta no encontrada"

	InvalidBodyError = "Invalid request body"
)

// FieldDetail describes one violated validation rule.
type FieldDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorBody is the shape produced by the error dispatcher.
type ErrorBody struct {
	Status  string        `json:"status"`
	Error   string        `json:"error"`
	Details []FieldDetail `json:"details,omitempty"`
}

// NoticeBody is used by the content filter and the rate limiter; it has no
// "status" key.
type NoticeBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response body", "error", err, "status_code", statusCode)
	}
}

func WriteError(w http.ResponseWriter, statusCode int, message string, details []FieldDetail) {
	WriteJSON(w, statusCode, ErrorBody{
		Status:  "error",
		Error:   message,
		Details: details,
	})
}

func WriteContentRejected(w http.ResponseWriter) {
	WriteJSON(w, http.StatusBadRequest, NoticeBody{
		Error:   ContentRejectedError,
		Message: ContentRejectedMessage,
	})
}

func WriteRateLimitError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusTooManyRequests, NoticeBody{
		Error:   RateLimitError,
		Message: RateLimitMessage,
	})
}

func WriteNotFound(w http.ResponseWriter) {
	WriteJSON(w, http.StatusNotFound, map[string]string{"message": NotFoundMessage})
}
