package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"wallet_ledger/internal/api/middlew"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/response"

	"github.com/go-chi/chi/v5"
)

const transferNotFound = "Transfer not found"

type TransferHandler struct {
	service service.TransferServicer
}

func NewTransferHandler(service service.TransferServicer) *TransferHandler {
	return &TransferHandler{service: service}
}

// transferStatusCode: повтор отдает 200, незавершенный перевод 202, новый 201.
func transferStatusCode(res *models.TransferResult) int {
	switch {
	case res.Replayed:
		return http.StatusOK
	case !res.Status.IsTerminal():
		return http.StatusAccepted
	default:
		return http.StatusCreated
	}
}

func (h *TransferHandler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "handler.InitiateTransfer"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("ошибка декодирования JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	res, err := h.service.InitiateTransfer(r.Context(), req)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, transferStatusCode(res), res)
}

func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetTransfer"
	log := middlew.GetLogger(r.Context())

	tx, err := h.service.GetTransfer(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, log, op, err, transferNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, tx)
}

func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "handler.CancelTransfer"
	log := middlew.GetLogger(r.Context())

	res, err := h.service.CancelTransfer(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeServiceError(w, log, op, err, transferNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, res)
}

func (h *TransferHandler) RetryTransfer(w http.ResponseWriter, r *http.Request) {
	const op = "handler.RetryTransfer"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var req models.RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("ошибка декодирования JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	req.OriginalReference = chi.URLParam(r, "reference")

	res, err := h.service.RetryTransfer(r.Context(), req)
	if err != nil {
		writeServiceError(w, log, op, err, transferNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, transferStatusCode(res), res)
}
