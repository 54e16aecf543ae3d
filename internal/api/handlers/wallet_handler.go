package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"wallet_ledger/internal/api/middlew"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/response"

	"github.com/go-chi/chi/v5"
)

const walletNotFound = "Wallet not found"

type WalletHandler struct {
	service service.WalletServicer
}

func NewWalletHandler(service service.WalletServicer) *WalletHandler {
	return &WalletHandler{
		service: service,
	}
}

type provisionRequest struct {
	Wallets []models.NewWallet `json:"wallets"`
}

func (h *WalletHandler) ProvisionWallets(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ProvisionWallets"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("ошибка декодирования JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	wallets, err := h.service.ProvisionWallets(r.Context(), req.Wallets)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusCreated, wallets)
}

func (h *WalletHandler) GetWalletByID(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetWalletByID"
	log := middlew.GetLogger(r.Context())

	id, ok := parseWalletID(w, log, op, chi.URLParam(r, "walletID"))
	if !ok {
		return
	}

	wallet, err := h.service.GetWalletByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, wallet)
}

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	const op = "handler.GetBalance"
	log := middlew.GetLogger(r.Context())

	id, ok := parseWalletID(w, log, op, chi.URLParam(r, "walletID"))
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), id)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, balance)
}

func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ListTransactions"
	log := middlew.GetLogger(r.Context())

	id, ok := parseWalletID(w, log, op, chi.URLParam(r, "walletID"))
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := models.TransactionFilter{
		Status: models.TransactionStatus(q.Get("status")),
		Type:   models.TransactionType(q.Get("type")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			log.Warn("невалидный параметр запроса", slog.String("op", op), slog.String(name, raw))
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_field", "Invalid "+name)
			return
		}
		*dst = v
	}

	txns, err := h.service.ListTransactions(r.Context(), id, filter)
	if err != nil {
		writeServiceError(w, log, op, err, walletNotFound)
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, txns)
}
