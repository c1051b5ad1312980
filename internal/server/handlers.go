package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const maxTradeLimit = 1000

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "rudder",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.pf.Positions()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}

	trades, err := s.st.ListTrades(s.eng.Session().ID, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list trades")
		s.writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(trades),
		"trades": trades,
	})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.ledger.Summary(s.eng.Session().ID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build analytics summary")
		s.writeError(w, http.StatusInternalServerError, "failed to build analytics summary")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// systemResponse reports host and storage health for the status dashboard.
type systemResponse struct {
	CPUPercent    float64  `json:"cpu_percent"`
	MemPercent    float64  `json:"mem_percent"`
	DiskPercent   float64  `json:"disk_percent"`
	DataDirMB     float64  `json:"data_dir_mb"`
	Databases     []dbInfo `json:"databases"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	CheckedAt     string   `json:"checked_at"`
}

type dbInfo struct {
	Name   string  `json:"name"`
	SizeMB float64 `json:"size_mb"`
}

var startedAt = time.Now()

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	resp := systemResponse{
		UptimeSeconds: time.Since(startedAt).Seconds(),
		CheckedAt:     time.Now().UTC().Format(time.RFC3339),
	}

	// 100ms sample keeps the endpoint responsive for pollers
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	} else if err != nil {
		s.log.Warn().Err(err).Msg("failed to read CPU usage")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemPercent = vm.UsedPercent
	} else {
		s.log.Warn().Err(err).Msg("failed to read memory usage")
	}

	dataDir := s.cfg.Storage.DataDir
	if du, err := disk.Usage(dataDir); err == nil {
		resp.DiskPercent = du.UsedPercent
	} else {
		s.log.Warn().Err(err).Str("dir", dataDir).Msg("failed to read disk usage")
	}
	resp.DataDirMB = dirSizeMB(dataDir)

	for _, path := range []string{s.cfg.StateDBPath(), s.cfg.AnalyticsDBPath()} {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		resp.Databases = append(resp.Databases, dbInfo{
			Name:   filepath.Base(path),
			SizeMB: float64(info.Size()) / 1024 / 1024,
		})
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
