package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quartzline/rudder/internal/domain"
)

// Bootstrap resumes the most recent active session when session.resume is
// set, otherwise creates a fresh one, then hydrates the portfolio from
// persisted state. Safe to call once per process.
func (e *Engine) Bootstrap() error {
	session, err := e.resolveSession()
	if err != nil {
		return err
	}

	if err := e.pf.Hydrate(session); err != nil {
		return fmt.Errorf("failed to hydrate portfolio: %w", err)
	}

	e.mu.Lock()
	e.session = session
	e.mu.Unlock()

	e.log.Info().
		Str("session_id", session.ID).
		Str("mode", string(session.Mode)).
		Float64("initial_cash", session.InitialCash).
		Float64("equity", e.pf.Equity()).
		Int("open_positions", len(e.pf.Positions())).
		Msg("session ready")
	return nil
}

func (e *Engine) resolveSession() (*domain.Session, error) {
	mode := domain.TradingMode(e.cfg.Session.Mode)

	if e.cfg.Session.Resume {
		session, err := e.st.GetActiveSession()
		switch {
		case err == nil:
			if session.Mode != mode {
				return nil, fmt.Errorf(
					"failed to resume session %s: persisted mode %q does not match configured mode %q",
					session.ID, session.Mode, mode)
			}
			e.log.Info().Str("session_id", session.ID).Msg("resuming session")
			return session, nil
		case errors.Is(err, domain.ErrSessionNotFound):
			e.log.Info().Msg("no resumable session found, starting fresh")
		default:
			return nil, fmt.Errorf("failed to look up active session: %w", err)
		}
	}

	session := &domain.Session{
		ID:          uuid.New().String(),
		Mode:        mode,
		Status:      domain.SessionActive,
		InitialCash: e.cfg.Session.InitialCash,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.st.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}
