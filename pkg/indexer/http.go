package indexer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/crosslane/bridge-middleware/pkg/app/errors"
	apphttp "github.com/crosslane/bridge-middleware/pkg/app/http"
)

// FeeReader reads persisted referral fee records
type FeeReader interface {
	ListReferralFeesByReferrer(ctx context.Context, referrer string) ([]*ReferralFee, error)
}

// HTTP exposes indexer control and fee read endpoints
type HTTP struct {
	manager  *Manager
	fees     FeeReader
	validate *validator.Validate
	logger   *zap.Logger
}

// RegisterRoutes registers indexer endpoints on the given chi router
func RegisterRoutes(r chi.Router, manager *Manager, fees FeeReader, logger *zap.Logger) {
	h := &HTTP{
		manager:  manager,
		fees:     fees,
		validate: validator.New(),
		logger:   logger,
	}

	r.Post("/indexing/start", apphttp.HandleError(h.start))
	r.Post("/indexing/stop", apphttp.HandleError(h.stop))
	r.Post("/indexing/rescan", apphttp.HandleError(h.rescan))
	r.Get("/indexing/status", apphttp.HandleError(h.status))
	r.Get("/referrers/{address}/fees", apphttp.HandleError(h.listFees))
}

// ControlRequest selects the indexer to act on; omitting network_id
// targets every indexer.
type ControlRequest struct {
	NetworkID uint64 `json:"network_id"`
}

// RescanRequest resets one indexer's checkpoint
type RescanRequest struct {
	NetworkID uint64 `json:"network_id" validate:"required"`
	FromBlock uint64 `json:"from_block"`
}

// FeeResponse is the wire form of a referral fee record
type FeeResponse struct {
	Referrer    string `json:"referrer"`
	Token       string `json:"token"`
	NetworkID   uint64 `json:"network_id"`
	Amount      string `json:"amount"`
	LastUpdated string `json:"last_updated"`
}

func (h *HTTP) start(w http.ResponseWriter, r *http.Request) error {
	req, err := h.decodeControl(r)
	if err != nil {
		return err
	}

	if req.NetworkID == 0 {
		err = h.manager.StartAll(r.Context())
	} else {
		err = h.manager.Start(r.Context(), req.NetworkID)
	}
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
	return nil
}

func (h *HTTP) stop(w http.ResponseWriter, r *http.Request) error {
	req, err := h.decodeControl(r)
	if err != nil {
		return err
	}

	if req.NetworkID == 0 {
		err = h.manager.StopAll(r.Context())
	} else {
		err = h.manager.Stop(r.Context(), req.NetworkID)
	}
	if err != nil {
		return err
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	return nil
}

func (h *HTTP) rescan(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return apperrors.InvalidInputError(err, "failed to read request")
	}

	var req RescanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return apperrors.InvalidInputError(err, "invalid JSON")
	}
	if err := h.validate.Struct(&req); err != nil {
		return apperrors.InvalidInputError(err, "invalid request: "+err.Error())
	}

	if err := h.manager.RescanFrom(r.Context(), req.NetworkID, req.FromBlock); err != nil {
		return err
	}

	h.logger.Info("Rescan requested",
		zap.Uint64("network_id", req.NetworkID),
		zap.Uint64("from_block", req.FromBlock))
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rescanning"})
	return nil
}

func (h *HTTP) status(w http.ResponseWriter, r *http.Request) error {
	infos, err := h.manager.Status(r.Context())
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].NetworkID < infos[j].NetworkID })
	h.writeJSON(w, http.StatusOK, infos)
	return nil
}

func (h *HTTP) listFees(w http.ResponseWriter, r *http.Request) error {
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		return apperrors.InvalidInputError(nil, "referrer address is not a valid address")
	}

	fees, err := h.fees.ListReferralFeesByReferrer(r.Context(), strings.ToLower(common.HexToAddress(address).Hex()))
	if err != nil {
		return apperrors.GeneralError(err)
	}

	resp := make([]FeeResponse, len(fees))
	for i, fee := range fees {
		resp[i] = FeeResponse{
			Referrer:    fee.Referrer,
			Token:       fee.Token,
			NetworkID:   fee.NetworkID,
			Amount:      fee.Amount,
			LastUpdated: fee.LastUpdated.UTC().Format(time.RFC3339),
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
	return nil
}

// decodeControl tolerates an empty body, which targets all indexers
func (h *HTTP) decodeControl(r *http.Request) (*ControlRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, apperrors.InvalidInputError(err, "failed to read request")
	}

	req := &ControlRequest{}
	if len(body) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, req); err != nil {
		return nil, apperrors.InvalidInputError(err, "invalid JSON")
	}
	return req, nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
