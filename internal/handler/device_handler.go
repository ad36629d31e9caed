package handler

import (
	"context"
	"net/http"

	"locatr/internal/config"
	"locatr/internal/domain"
	"locatr/internal/render"
	"locatr/internal/viewer"
	"locatr/pkg/log"
	"locatr/pkg/response"

	"github.com/gorilla/mux"
)

// Resolver is the lookup the device handler needs.
type Resolver interface {
	Resolve(ctx context.Context, code string) (*viewer.Resolution, error)
}

type DeviceHandler struct {
	resolver Resolver
	mapCfg   config.MapConfig
	logger   log.Logger
}

func NewDeviceHandler(resolver Resolver, mapCfg config.MapConfig, logger log.Logger) *DeviceHandler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &DeviceHandler{
		resolver: resolver,
		mapCfg:   mapCfg,
		logger:   logger.WithName("device-handler"),
	}
}

type ResolveResponse struct {
	Device  domain.DeviceResponse   `json:"device"`
	Samples []domain.LocationSample `json:"samples"`
	Summary *domain.Summary         `json:"summary"`
	Warning string                  `json:"warning,omitempty"`
}

type CodeResponse struct {
	Code string `json:"code"`
}

func (h *DeviceHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	res, warning, ok := h.resolve(w, r)
	if !ok {
		return
	}

	state := domain.ViewState{Device: res.Device, Sequence: res.Samples}
	response.JSON(w, http.StatusOK, ResolveResponse{
		Device:  res.Device.Response(),
		Samples: res.Samples,
		Summary: state.Summarize(),
		Warning: warning,
	})
}

// Map renders the current trail of a device as a map snapshot.
func (h *DeviceHandler) Map(w http.ResponseWriter, r *http.Request) {
	res, warning, ok := h.resolve(w, r)
	if !ok {
		return
	}

	surface := render.NewSurface(h.mapCfg)
	defer surface.Release()
	surface.Init()
	surface.Update(res.Device.Code, res.Samples)

	response.Partial(w, surface.Snapshot(), warning)
}

func (h *DeviceHandler) NewCode(w http.ResponseWriter, r *http.Request) {
	code, err := domain.GenerateCode()
	if err != nil {
		h.logger.Error(err, "Failed to generate device code")
		response.InternalError(w, "Failed to generate device code")
		return
	}

	response.JSON(w, http.StatusOK, CodeResponse{Code: code})
}

// resolve writes the error response itself and reports whether the caller
// should continue. A history failure after the device was found is returned
// as a warning.
func (h *DeviceHandler) resolve(w http.ResponseWriter, r *http.Request) (*viewer.Resolution, string, bool) {
	code := mux.Vars(r)["code"]

	res, err := h.resolver.Resolve(r.Context(), code)
	if err != nil {
		if res != nil && res.Device != nil {
			return res, err.Error(), true
		}
		response.Error(w, StatusFor(err), domain.Category(err), err.Error())
		return nil, "", false
	}

	return res, "", true
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch domain.Category(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "load_error", "store_read", "store_write":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
