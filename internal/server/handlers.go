package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/swarmlab/apiary/internal/domain"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

// handleHealth reports process liveness. When a journal is attached its
// database is checked too, so a corrupt or unreachable journal file reads
// as degraded rather than silently losing the audit trail.
// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.journal != nil {
		if err := s.journal.Health(r.Context()); err != nil {
			s.log.Error().Err(err).Msg("Journal health check failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
				"time":   time.Now().Format(time.RFC3339),
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleSystem reports process uptime and host load.
// GET /api/system
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := s.systemStats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": time.Since(s.startupTime).Seconds(),
		"cpu_percent":    cpuAvg,
		"ram_percent":    ramPercent,
	})
}

// systemStats samples CPU over a short window so the endpoint stays fast,
// and reads memory instantly.
func (s *Server) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

// handleSwarm returns per-agent counters.
// GET /api/swarm
func (s *Server) handleSwarm(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"agents": s.orchestrator.AgentStats(),
	})
}

// handleSignals returns live signals, optionally filtered by kind and
// symbol, strongest first.
// GET /api/signals?kind=opportunity&symbol=AAPL
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	kindParam := r.URL.Query().Get("kind")

	kinds := []domain.SignalKind{
		domain.SignalOpportunity, domain.SignalDanger,
		domain.SignalResources, domain.SignalCoordination,
	}
	if kindParam != "" {
		kind := domain.SignalKind(kindParam)
		valid := false
		for _, k := range kinds {
			if k == kind {
				valid = true
				break
			}
		}
		if !valid {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "unknown signal kind: " + kindParam,
			})
			return
		}
		kinds = []domain.SignalKind{kind}
	}

	signals := make([]*domain.Signal, 0)
	for _, k := range kinds {
		signals = append(signals, s.env.Query(k, symbol)...)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(signals),
		"signals": signals,
	})
}

// handlePositions returns the open ledger.
// GET /api/positions
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":          s.env.PositionCount(),
		"total_exposure": s.env.TotalExposure(),
		"positions":      s.env.Positions(),
	})
}

// handleAllocations returns the resource table.
// GET /api/allocations
func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       s.env.TotalAllocated(),
		"allocations": s.env.Allocations(),
	})
}

// handleReport returns a live swarm report snapshot.
// GET /api/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orchestrator.Report())
}

// handleTrades returns recent journaled closed trades, newest first.
// Registered only when a journal is configured.
// GET /api/trades?limit=50
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	trades, err := s.journal.ClosedTrades(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read closed trades")
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to read closed trades",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(trades),
		"trades": trades,
	})
}
