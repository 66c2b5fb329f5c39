package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/dropwatch/internal/control/monitor"
	"github.com/vietddude/dropwatch/internal/core/domain"
)

const (
	defaultActivityLimit = 20
	defaultCheckLimit    = 10
	maxLimit             = 100
	maxBodyBytes         = 1 << 20
)

type handler struct {
	svc    Service
	status StatusProvider
	log    *slog.Logger
}

type monitorWalletsRequest struct {
	Action  string               `json:"action"`
	Address string               `json:"address"`
	UserID  string               `json:"userId"`
	FID     int64                `json:"fid"`
	Filter  *domain.FilterConfig `json:"filter,omitempty"`
	Wallets []string             `json:"wallets,omitempty"`
}

func (h *handler) monitorWallets(w http.ResponseWriter, r *http.Request) {
	var req monitorWalletsRequest
	if !decode(w, r, &req) {
		return
	}

	switch req.Action {
	case "add":
		err := h.svc.AddWallet(r.Context(), monitor.AddWalletRequest{
			Address: req.Address,
			UserID:  req.UserID,
			FID:     req.FID,
			Filter:  req.Filter,
		})
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Wallet added to monitoring"})

	case "remove":
		removed, err := h.svc.RemoveWallet(r.Context(), req.Address, req.UserID, req.FID)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"removed": removed,
			"message": "Wallet removed from monitoring",
		})

	case "":
		h.snapshot(w, r)

	default:
		writeError(w, http.StatusBadRequest, "unknown action "+req.Action)
	}
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":                 true,
		"transactions":            snap.Transactions,
		"significantTransactions": snap.SignificantTransactions,
		"monitoredWallets":        snap.MonitoredWallets,
		"notificationsDelivered":  snap.Delivered,
		"notificationsFailed":     snap.Failed,
		"lastUpdate":              snap.LastUpdate,
	})
}

type checkRequest struct {
	Wallets []string `json:"wallets"`
	Since   string   `json:"since"`
	Limit   int      `json:"limit"`
}

func (h *handler) checkNewTransactions(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Wallets == nil {
		writeError(w, http.StatusBadRequest, "Wallets array is required")
		return
	}
	if req.Since == "" {
		writeError(w, http.StatusBadRequest, "Since timestamp is required")
		return
	}
	since, err := time.Parse(time.RFC3339Nano, req.Since)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Since must be an ISO-8601 timestamp")
		return
	}

	res := h.svc.CheckNewTransactions(r.Context(), req.Wallets, since, clampLimit(req.Limit, defaultCheckLimit))
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"newTransactions": res.NewTransactions,
		"totalNew":        res.TotalNew,
		"walletsChecked":  res.WalletsChecked,
		"since":           req.Since,
		"timestamp":       time.Now().UTC(),
	})
}

type activityRequest struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

func (h *handler) walletActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decode(w, r, &req) {
		return
	}
	txs, err := h.svc.WalletActivity(r.Context(), req.Address, clampLimit(req.Limit, defaultActivityLimit))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"address":      domain.NormalizeAddress(req.Address),
		"transactions": txs,
		"count":        len(txs),
	})
}

func (h *handler) validateWallet(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if r.Method == http.MethodPost {
		var req struct {
			Address string `json:"address"`
		}
		if !decode(w, r, &req) {
			return
		}
		address = req.Address
	}

	v := h.svc.ValidateWallet(r.Context(), address)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"isValid":          v.IsValid,
		"address":          v.Address,
		"balance":          v.Balance,
		"balanceWei":       v.BalanceWei,
		"transactionCount": v.TransactionCount,
		"network":          v.Network,
		"error":            v.Error,
	})
}

type sendRequest struct {
	FID            int64  `json:"fid"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	TargetURL      string `json:"targetUrl"`
	NotificationID string `json:"notificationId"`
}

func (h *handler) sendNotification(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.SendNotification(r.Context(), monitor.SendRequest{
		FID:            req.FID,
		Title:          req.Title,
		Body:           req.Body,
		TargetURL:      req.TargetURL,
		NotificationID: req.NotificationID,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"notificationId": res.NotificationID,
	})
}

func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	ev, err := h.svc.HandleWebhook(r.Context(), body)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "event": ev.Event})
}

func (h *handler) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusNotFound, "scheduler status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "addresses": h.status.Status()})
}

// fail maps service errors to status codes without leaking internals.
func (h *handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "Invalid address format")
	case errors.Is(err, monitor.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), monitor.ErrInvalidRequest.Error()+": "))
	case errors.Is(err, monitor.ErrInvalidWebhook):
		writeError(w, http.StatusBadRequest, "Invalid webhook")
	case errors.Is(err, domain.ErrChannelNotRegistered):
		writeError(w, http.StatusNotFound, "No notification channel registered")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "Rate limited")
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		writeError(w, http.StatusBadGateway, "Upstream unavailable")
	default:
		h.log.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
