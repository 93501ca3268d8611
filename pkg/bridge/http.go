package bridge

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	apphttp "github.com/crosslane/bridge-middleware/pkg/app/http"
)

// HTTP wraps the Service to provide HTTP endpoints
type HTTP struct {
	service  *Service
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers bridge transaction endpoints on the given chi router
func RegisterRoutes(r chi.Router, service *Service, logger *zap.Logger) {
	h := &HTTP{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}

	r.Post("/transactions", apphttp.HandleError(h.createTransaction))
	r.Get("/transactions/{messageID}", apphttp.HandleError(h.getTransaction))
	r.Post("/users/{address}/sync", apphttp.HandleError(h.syncUser))
	r.Get("/users/{address}/transactions", apphttp.HandleError(h.listUserTransactions))
}

// CreateTransactionRequest is the body for POST /transactions
type CreateTransactionRequest struct {
	TxHash      string `json:"tx_hash" validate:"required,len=66,startswith=0x"`
	NetworkID   uint64 `json:"network_id" validate:"required"`
	UserAddress string `json:"user_address" validate:"required,eth_addr"`
}

// TransactionResponse is the wire form of a bridge transaction
type TransactionResponse struct {
	MessageID       string  `json:"message_id"`
	UserAddress     string  `json:"user_address"`
	SourceChainID   uint64  `json:"source_chain_id"`
	TargetChainID   uint64  `json:"target_chain_id"`
	SourceTxHash    string  `json:"source_tx_hash"`
	TokenAddress    string  `json:"token_address"`
	TokenSymbol     string  `json:"token_symbol"`
	TokenDecimals   uint8   `json:"token_decimals"`
	Amount          string  `json:"amount"`
	SourceTimestamp string  `json:"source_timestamp"`
	TargetTxHash    *string `json:"target_tx_hash,omitempty"`
	TargetTimestamp *string `json:"target_timestamp,omitempty"`
	Status          string  `json:"status"`
}

func toResponse(tx *Transaction) *TransactionResponse {
	resp := &TransactionResponse{
		MessageID:       tx.MessageID,
		UserAddress:     tx.UserAddress,
		SourceChainID:   tx.SourceChainID,
		TargetChainID:   tx.TargetChainID,
		SourceTxHash:    tx.SourceTxHash,
		TokenAddress:    tx.TokenAddress,
		TokenSymbol:     tx.TokenSymbol,
		TokenDecimals:   tx.TokenDecimals,
		Amount:          tx.Amount,
		SourceTimestamp: tx.SourceTimestamp.UTC().Format(time.RFC3339),
		TargetTxHash:    tx.TargetTxHash,
		Status:          string(tx.Status),
	}
	if tx.TargetTimestamp != nil {
		ts := tx.TargetTimestamp.UTC().Format(time.RFC3339)
		resp.TargetTimestamp = &ts
	}
	return resp
}

func (h *HTTP) createTransaction(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.InvalidInputError(err, "failed to read request")
	}

	var req CreateTransactionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.InvalidInputError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.InvalidInputError(err, "invalid request: "+err.Error())
	}

	tx, err := h.service.CreateTransaction(r.Context(), req.TxHash, req.NetworkID, req.UserAddress)
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, toResponse(tx))
	return nil
}

func (h *HTTP) getTransaction(w http.ResponseWriter, r *http.Request) error {
	messageID := chi.URLParam(r, "messageID")

	tx, err := h.service.GetTransactionStatus(r.Context(), messageID)
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, toResponse(tx))
	return nil
}

func (h *HTTP) syncUser(w http.ResponseWriter, r *http.Request) error {
	address := chi.URLParam(r, "address")

	txs, err := h.service.SyncUserTransactions(r.Context(), address)
	if err != nil {
		return err
	}

	resp := make([]*TransactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toResponse(tx)
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) listUserTransactions(w http.ResponseWriter, r *http.Request) error {
	address := chi.URLParam(r, "address")
	if err := h.validate.Var(address, "required,eth_addr"); err != nil {
		return apperrors.InvalidInputError(err, "invalid user address")
	}

	txs, err := h.service.ListUserTransactions(r.Context(), address)
	if err != nil {
		return err
	}

	resp := make([]*TransactionResponse, len(txs))
	for i, tx := range txs {
		resp[i] = toResponse(tx)
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
