package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quartzline/rudder/internal/config"
	"github.com/quartzline/rudder/internal/store"
)

// haltKeyPrefix scopes the flag to a UTC day, so it expires on its own
const haltKeyPrefix = "halt_new_entries:"

// HaltGuard enforces the daily loss limit. Once the session drawdown
// reaches the configured fraction, every entry path short-circuits until
// UTC midnight; exits keep running.
type HaltGuard struct {
	log zerolog.Logger
	st  store.Store
	pct float64
}

// NewHaltGuard creates the daily loss guard
func NewHaltGuard(st store.Store, cfg config.RiskConfig, log zerolog.Logger) *HaltGuard {
	return &HaltGuard{
		log: log.With().Str("component", "halt").Logger(),
		st:  st,
		pct: cfg.DailyLossLimitPct,
	}
}

func haltKey(day time.Time) string {
	return haltKeyPrefix + day.UTC().Format("2006-01-02")
}

// Evaluate arms the halt flag when the drawdown from the session start
// equity reaches the limit, and reports whether entries are halted for the
// rest of the UTC day.
func (h *HaltGuard) Evaluate(sessionID string, startEquity, equity float64, now time.Time) (bool, error) {
	if h.pct <= 0 || startEquity <= 0 {
		return false, nil
	}

	halted, err := h.Halted(sessionID, now)
	if err != nil {
		return false, err
	}
	if halted {
		return true, nil
	}

	drawdown := (startEquity - equity) / startEquity
	if drawdown < h.pct {
		return false, nil
	}

	if err := h.st.SetMetadata(sessionID, haltKey(now), "true"); err != nil {
		return false, fmt.Errorf("failed to persist halt flag: %w", err)
	}
	h.log.Warn().
		Str("session_id", sessionID).
		Float64("drawdown", drawdown).
		Float64("limit", h.pct).
		Float64("start_equity", startEquity).
		Float64("equity", equity).
		Msg("DAILY_LOSS_LIMIT_HALT")
	return true, nil
}

// Halted reports whether the flag is set for the UTC day of now
func (h *HaltGuard) Halted(sessionID string, now time.Time) (bool, error) {
	v, err := h.st.GetMetadata(sessionID, haltKey(now))
	if err != nil {
		return false, fmt.Errorf("failed to read halt flag: %w", err)
	}
	return v != nil && *v == "true", nil
}
