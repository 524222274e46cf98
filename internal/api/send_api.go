package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-dispatch/internal/dispatcher"
	"github.com/tinywideclouds/go-push-dispatch/internal/lifecycle"
	"github.com/tinywideclouds/go-push-dispatch/pkg/dispatch"
)

// DispatcherSource hands out a Dispatcher bound to one unit of work.
type DispatcherSource interface {
	ForUnit(unit lifecycle.Registrar) (*dispatcher.Dispatcher, error)
}

type SendAPI struct {
	Dispatchers DispatcherSource
	Logger      *slog.Logger
}

func NewSendAPI(source DispatcherSource, logger *slog.Logger) *SendAPI {
	return &SendAPI{
		Dispatchers: source,
		Logger:      logger.With("component", "SendAPI"),
	}
}

// Send handles POST /api/v1/send. The request must name exactly one recipient.
func (api *SendAPI) Send(w http.ResponseWriter, r *http.Request) {
	req, ok := api.decode(w, r)
	if !ok {
		return
	}
	if len(req.Recipients) != 1 {
		response.WriteJSONError(w, http.StatusBadRequest, "send expects exactly one recipient; use /send/batch")
		return
	}
	api.dispatch(w, r, req)
}

// SendBatch handles POST /api/v1/send/batch.
func (api *SendAPI) SendBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := api.decode(w, r)
	if !ok {
		return
	}
	api.dispatch(w, r, req)
}

func (api *SendAPI) decode(w http.ResponseWriter, r *http.Request) (*dispatch.SendRequest, bool) {
	if _, ok := middleware.GetUserIDFromContext(r.Context()); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	var req dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		api.Logger.Warn("Send request rejected", "reason", err)
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}

func (api *SendAPI) dispatch(w http.ResponseWriter, r *http.Request, req *dispatch.SendRequest) {
	ctx := r.Context()
	caller, _ := middleware.GetUserIDFromContext(ctx)
	handle, _ := middleware.GetUserHandleFromContext(ctx)

	// Without the lifecycle middleware the connections are released here instead.
	var unit lifecycle.Registrar
	if scope, ok := lifecycle.FromContext(ctx); ok {
		unit = scope
	} else {
		scope := lifecycle.NewScope(api.Logger)
		defer scope.End()
		unit = scope
	}

	d, err := api.Dispatchers.ForUnit(unit)
	if err != nil {
		api.Logger.Error("Failed to build dispatcher", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatcher unavailable")
		return
	}

	res, err := d.Dispatch(ctx, req)
	if err != nil {
		var cfgErr *dispatch.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, dispatch.ErrNoRecipients) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("Dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}

	api.Logger.Info("Dispatch completed",
		"caller", caller,
		"handle", handle,
		"dispatch_id", res.ID,
		"provider", res.Provider,
		"recipients", len(req.Recipients),
		"success", res.Success,
		"dry_run", res.DryRun,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		api.Logger.Warn("Failed to write dispatch result", "err", err)
	}
}
