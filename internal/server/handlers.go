// Package server provides the HTTP status and control surface for the
// epidemiological panel backend.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"epipanel/internal/cache"
	"epipanel/internal/dataset"
	"epipanel/internal/history"
	"epipanel/internal/provider/ibge"
	"epipanel/internal/version"
)

// Refresher triggers a refresh run. Satisfied by the scheduler orchestrator.
type Refresher interface {
	RunOnce(ctx context.Context, trigger string) *history.RunRecord
}

// Scheduled is implemented by refreshers that run on a timer. A zero time
// means no run is armed.
type Scheduled interface {
	NextScheduledRun() time.Time
}

// PanelInfo describes the municipality and mode the panel serves.
type PanelInfo struct {
	MunicipalityCode string `json:"municipality_code"`
	MunicipalityName string `json:"municipality_name"`
	UF               string `json:"uf"`
	DemoMode         bool   `json:"demo_mode"`
}

// Handler holds the HTTP handlers
type Handler struct {
	info      PanelInfo
	cache     cache.Store
	history   history.Store
	refresher Refresher
	ibge      *ibge.Client
	logger    *slog.Logger
}

// NewHandler creates a new handler. The ibge client may be nil, which
// disables the boundaries endpoint.
func NewHandler(info PanelInfo, cacheStore cache.Store, historyStore history.Store, refresher Refresher, ibgeClient *ibge.Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		info:      info,
		cache:     cacheStore,
		history:   historyStore,
		refresher: refresher,
		ibge:      ibgeClient,
		logger:    logger,
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// Status handles GET /api/v1/status
func (h *Handler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	info, err := h.cache.Info(ctx)
	if err != nil {
		return h.internalError(c, "cache info failed", err)
	}

	resp := map[string]any{
		"panel":   h.info,
		"version": version.Version,
		"cache":   info,
	}

	runs, err := h.history.List(ctx, 1)
	if err != nil {
		return h.internalError(c, "history list failed", err)
	}
	if len(runs) > 0 {
		resp["last_run"] = runs[0]
	}

	if sched, ok := h.refresher.(Scheduled); ok {
		if next := sched.NextScheduledRun(); !next.IsZero() {
			resp["next_run"] = next
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// ListDatasets handles GET /api/v1/datasets
func (h *Handler) ListDatasets(c echo.Context) error {
	keys, err := h.cache.Keys(c.Request().Context())
	if err != nil {
		return h.internalError(c, "cache key listing failed", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count": len(keys),
		"keys":  keys,
	})
}

// GetDataset handles GET /api/v1/datasets/:key. Records are included only
// when ?records=true, metadata alone otherwise.
func (h *Handler) GetDataset(c echo.Context) error {
	key := c.Param("key")
	if !dataset.ValidKey(key) {
		return c.JSON(http.StatusBadRequest, errorBody("invalid_key", "dataset key has invalid characters"))
	}

	entry, err := h.cache.Get(c.Request().Context(), key)
	if err != nil {
		var corrupt *cache.CorruptionError
		if errors.As(err, &corrupt) {
			h.logger.Warn("cached dataset is corrupt", "key", key, "error", err)
			return c.JSON(http.StatusUnprocessableEntity, errorBody("corrupt_entry", corrupt.Error()))
		}
		return h.internalError(c, "cache read failed", err)
	}
	if entry == nil {
		return c.JSON(http.StatusNotFound, errorBody("not_found", "no cached dataset for key "+key))
	}

	resp := map[string]any{"metadata": entry.Metadata}
	if withRecords, _ := strconv.ParseBool(c.QueryParam("records")); withRecords {
		resp["records"] = entry.Data.Rows
		resp["columns"] = entry.Data.Columns
	}
	return c.JSON(http.StatusOK, resp)
}

// TriggerRefresh handles POST /api/v1/refresh. The run executes in the
// background; the response only acknowledges the trigger.
func (h *Handler) TriggerRefresh(c echo.Context) error {
	if h.refresher == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "refresh is not configured"))
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		h.refresher.RunOnce(ctx, history.TriggerManual)
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	runs, err := h.history.List(c.Request().Context(), limit)
	if err != nil {
		return h.internalError(c, "history list failed", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRun handles GET /api/v1/runs/:id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.history.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorBody("not_found", "no run with that id"))
		}
		return h.internalError(c, "history read failed", err)
	}
	return c.JSON(http.StatusOK, run)
}

// Boundaries handles GET /api/v1/boundaries, proxying the municipality
// boundary GeoJSON from IBGE.
func (h *Handler) Boundaries(c echo.Context) error {
	if h.ibge == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "boundary service is not configured"))
	}
	raw, err := h.ibge.Boundaries(c.Request().Context(), h.info.MunicipalityCode)
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorBody("upstream_error", err.Error()))
	}
	return c.Blob(http.StatusOK, "application/geo+json", raw)
}

func (h *Handler) internalError(c echo.Context, msg string, err error) error {
	h.logger.Error(msg, "error", err)
	return c.JSON(http.StatusInternalServerError, errorBody("internal_error", "an unexpected error occurred"))
}

func errorBody(kind, message string) map[string]any {
	return map[string]any{
		"error": map[string]string{
			"type":    kind,
			"message": message,
		},
	}
}
