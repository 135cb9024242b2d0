package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hoangvu/vnquant/internal/database"
	"github.com/hoangvu/vnquant/internal/domain"
	"github.com/hoangvu/vnquant/internal/modules/agents"
)

// Handlers implements the API endpoints.
type Handlers struct {
	cfg       Config
	monitor   *ActivityMonitor
	startedAt time.Time
	log       zerolog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(cfg Config, monitor *ActivityMonitor, log zerolog.Logger) *Handlers {
	return &Handlers{
		cfg:       cfg,
		monitor:   monitor,
		startedAt: time.Now(),
		log:       log.With().Str("component", "handlers").Logger(),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// HandleHealth reports liveness.
// GET /api/health
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type databaseStatus struct {
	SizeBytes    int64  `json:"size_bytes"`
	WALSizeBytes int64  `json:"wal_size_bytes"`
	PageCount    int64  `json:"page_count"`
	PageSize     int64  `json:"page_size"`
	Error        string `json:"error,omitempty"`
}

type systemStatus struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemPercent  float64 `json:"mem_percent"`
	DiskPercent float64 `json:"disk_percent"`
}

type statusResponse struct {
	UptimeSeconds int64                     `json:"uptime_seconds"`
	System        systemStatus              `json:"system"`
	Stream        string                    `json:"stream,omitempty"`
	Ingestion     interface{}               `json:"ingestion,omitempty"`
	Breakers      map[string]string         `json:"breakers"`
	Databases     map[string]databaseStatus `json:"databases"`
	Activity      Activity                  `json:"activity"`
}

// HandleStatus reports system resources, stream and breaker states,
// database statistics and recent activity.
// GET /api/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		System:        h.systemStats(),
		Breakers:      make(map[string]string),
		Databases:     make(map[string]databaseStatus),
		Activity:      h.monitor.Snapshot(),
	}

	if h.cfg.Pipeline != nil {
		resp.Stream = string(h.cfg.Pipeline.StreamState())
		resp.Ingestion = h.cfg.Pipeline.Counters()
	}
	for _, cb := range h.cfg.Breakers {
		resp.Breakers[cb.Name()] = string(cb.State())
	}
	for name, db := range map[string]*database.DB{"trading": h.cfg.TradingDB, "market": h.cfg.MarketDB} {
		if db == nil {
			continue
		}
		resp.Databases[name] = h.databaseStats(db)
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// systemStats samples CPU, memory and disk. The 100ms CPU window
// keeps the endpoint fast enough for a dashboard polling every few
// seconds.
func (h *Handlers) systemStats() systemStatus {
	var out systemStatus

	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		out.CPUPercent = pct[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("Failed to sample CPU usage")
	}
	if stat, err := mem.VirtualMemory(); err == nil {
		out.MemPercent = stat.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to read memory statistics")
	}
	if usage, err := disk.Usage("/"); err == nil {
		out.DiskPercent = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to read disk usage")
	}
	return out
}

func (h *Handlers) databaseStats(db *database.DB) databaseStatus {
	stats, err := db.GetStats()
	if err != nil {
		return databaseStatus{Error: err.Error()}
	}
	return databaseStatus{
		SizeBytes:    stats.SizeBytes,
		WALSizeBytes: stats.WALSizeBytes,
		PageCount:    stats.PageCount,
		PageSize:     stats.PageSize,
	}
}

// HandleIngestion reports pipeline throughput counters.
// GET /api/ingestion
func (h *Handlers) HandleIngestion(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Pipeline == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ingestion pipeline not running")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stream":   string(h.cfg.Pipeline.StreamState()),
		"counters": h.cfg.Pipeline.Counters(),
	})
}

// HandleOpenOrders lists orders in a non-terminal state.
// GET /api/orders/open
func (h *Handlers) HandleOpenOrders(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Orders == nil {
		h.writeError(w, http.StatusServiceUnavailable, "order log not available")
		return
	}
	orders, err := h.cfg.Orders.Open(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list open orders")
		h.writeError(w, http.StatusInternalServerError, "failed to list open orders")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

// HandleOrdersBySymbol lists recent orders for one symbol.
// GET /api/orders/{symbol}?limit=50
func (h *Handlers) HandleOrdersBySymbol(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Orders == nil {
		h.writeError(w, http.StatusServiceUnavailable, "order log not available")
		return
	}
	symbol := domain.Symbol(chi.URLParam(r, "symbol"))
	limit := queryLimit(r, 50)

	orders, err := h.cfg.Orders.BySymbol(r.Context(), symbol, limit)
	if err != nil {
		h.log.Error().Err(err).Str("symbol", string(symbol)).Msg("Failed to list orders")
		h.writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "count": len(orders)})
}

// HandleRecentRuns lists the most recent pipeline run snapshots.
// GET /api/runs?limit=20
func (h *Handlers) HandleRecentRuns(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run snapshots not available")
		return
	}
	snaps, err := h.cfg.Runs.Recent(r.Context(), queryLimit(r, 20))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list run snapshots")
		h.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": snaps, "count": len(snaps)})
}

// HandleRun fetches one run snapshot.
// GET /api/runs/{runID}
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "run snapshots not available")
		return
	}
	runID := chi.URLParam(r, "runID")
	snap, err := h.cfg.Runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, agents.ErrRunNotFound) {
			h.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run snapshot")
		h.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleTriggerRun starts one pipeline run and waits for it.
// POST /api/runs/trigger
func (h *Handlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Trigger == nil {
		h.writeError(w, http.StatusServiceUnavailable, "pipeline trigger not wired")
		return
	}
	h.log.Info().Msg("Manual pipeline run triggered")

	runID, err := h.cfg.Trigger.TriggerRun(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Triggered run failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"run_id": runID,
			"error":  err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"run_id": runID, "status": "completed"})
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}
