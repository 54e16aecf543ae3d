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

type ReconciliationHandler struct {
	service service.ReconciliationServicer
}

func NewReconciliationHandler(service service.ReconciliationServicer) *ReconciliationHandler {
	return &ReconciliationHandler{service: service}
}

// Reconcile всегда отвечает 200: дрейф является содержимым отчета, а не ошибка запроса.
func (h *ReconciliationHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	const op = "handler.Reconcile"
	log := middlew.GetLogger(r.Context())

	id, ok := parseWalletID(w, log, op, chi.URLParam(r, "walletID"))
	if !ok {
		return
	}

	report, err := h.service.Reconcile(r.Context(), id)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, report)
}

func (h *ReconciliationHandler) ApplyCorrection(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ApplyCorrection"
	log := middlew.GetLogger(r.Context())

	id, ok := parseWalletID(w, log, op, chi.URLParam(r, "walletID"))
	if !ok {
		return
	}

	defer r.Body.Close()

	var req models.CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("ошибка декодирования JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	report, err := h.service.ApplyCorrection(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, report)
}
