package store

import (
	"fmt"
	"time"

	"github.com/quartzline/rudder/internal/domain"
)

// AppendScore adds one observation to the rolling score window for the
// (symbol, timeframe, strategy) key
func (s *SQLStore) AppendScore(sessionID string, key domain.WindowKey, score float64) error {
	_, err := s.db.Exec(
		"INSERT INTO signal_windows (session_id, symbol, timeframe, strategy, score, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		sessionID, key.Symbol, key.Timeframe, key.Strategy, score, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append score: %w", err)
	}

	return nil
}

// RecentScores returns up to limit most recent scores for a window key,
// oldest first so quantile math sees them in arrival order
func (s *SQLStore) RecentScores(sessionID string, key domain.WindowKey, limit int) ([]float64, error) {
	query := `
		SELECT score FROM (
			SELECT id, score FROM signal_windows
			WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`

	rows, err := s.db.Query(query, sessionID, key.Symbol, key.Timeframe, key.Strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent scores: %w", err)
	}
	defer rows.Close()

	var scores []float64
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores = append(scores, score)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}

	return scores, nil
}

// PruneScores drops all but the newest keep observations for a window key
func (s *SQLStore) PruneScores(sessionID string, key domain.WindowKey, keep int) error {
	query := `
		DELETE FROM signal_windows
		WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy = ? AND id NOT IN (
			SELECT id FROM signal_windows
			WHERE session_id = ? AND symbol = ? AND timeframe = ? AND strategy = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`

	_, err := s.db.Exec(query,
		sessionID, key.Symbol, key.Timeframe, key.Strategy,
		sessionID, key.Symbol, key.Timeframe, key.Strategy,
		keep,
	)
	if err != nil {
		return fmt.Errorf("failed to prune scores: %w", err)
	}

	return nil
}
