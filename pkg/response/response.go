package response

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"wallet_ledger/internal/custom_err"
)

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func WriteJSONSuccess(w http.ResponseWriter, log *slog.Logger, status int, data any) {
	writeJSON(w, log, status, data)
}

func WriteJSONError(w http.ResponseWriter, log *slog.Logger, status int, code, message string) {
	writeJSON(w, log, status, ErrorResponse{Error: code, Message: message})
}

// WriteValidationError отдает 400 с ошибками по полям. Для прочих ошибок
// возвращает false, ответ не пишется.
func WriteValidationError(w http.ResponseWriter, log *slog.Logger, err error) bool {
	var verr *custom_err.ValidationError
	if !errors.As(err, &verr) {
		return false
	}
	writeJSON(w, log, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_error",
		Message: "Request validation failed",
		Fields:  verr.Fields,
	})
	return true
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("не удалось записать JSON-ответ", slog.String("error", err.Error()))
	}
}
