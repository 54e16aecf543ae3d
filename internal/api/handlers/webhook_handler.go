package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"wallet_ledger/internal/api/middlew"
	"wallet_ledger/internal/events"
	"wallet_ledger/internal/models"
	"wallet_ledger/internal/service"
	"wallet_ledger/pkg/response"
)

const (
	SignatureHeader     = "X-Provider-Signature"
	maxWebhookBodyBytes = 1 << 20
)

type webhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type WebhookHandler struct {
	service service.WebhookServicer
	secret  []byte
}

func NewWebhookHandler(service service.WebhookServicer, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: []byte(secret)}
}

// Sign возвращает подпись тела в формате заголовка X-Provider-Signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) validSignature(header string, body []byte) bool {
	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func (h *WebhookHandler) HandleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "handler.HandleProviderWebhook"
	log := middlew.GetLogger(r.Context())

	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warn("не удалось прочитать тело вебхука", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_request", "Cannot read request body")
		return
	}

	if len(h.secret) == 0 {
		log.Warn("секрет вебхука не задан, подпись не проверяется", slog.String("op", op))
	} else if !h.validSignature(r.Header.Get(SignatureHeader), body) {
		log.Warn("неверная подпись вебхука", slog.String("op", op))
		response.WriteJSONError(w, log, http.StatusUnauthorized, "invalid_signature", "Invalid signature")
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn("ошибка декодирования JSON", slog.String("op", op), slog.String("error", err.Error()))
		response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	switch env.Event {
	case events.TransferStatusRoutingKey:
		var cb models.Callback
		if err := json.Unmarshal(env.Data, &cb); err != nil {
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid transfer status payload")
			return
		}
		err = h.service.HandleCallback(r.Context(), cb)
	case events.DepositReceivedRoutingKey:
		var n models.DepositNotification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			response.WriteJSONError(w, log, http.StatusBadRequest, "invalid_json", "Invalid deposit payload")
			return
		}
		err = h.service.HandleDeposit(r.Context(), n)
	default:
		// Неизвестные события подтверждаем, чтобы провайдер не слал их повторно.
		log.Info("событие вебхука не обрабатывается", slog.String("op", op), slog.String("event", env.Event))
		response.WriteJSONSuccess(w, log, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if err != nil {
		// 5xx заставит провайдера повторить доставку.
		writeServiceError(w, log, op, err, "Transaction not found")
		return
	}

	response.WriteJSONSuccess(w, log, http.StatusOK, map[string]string{"status": "ok"})
}
