package portfolio

import (
	"encoding/json"
	"fmt"

	"github.com/quartzline/rudder/internal/domain"
)

const metaKeyPrefix = "position_meta:"

// Meta loads the protective state for a (symbol, strategy) position, or
// nil when none is stored.
func (p *Portfolio) Meta(symbol, strategy string) (*domain.PositionMeta, error) {
	key := metaKeyPrefix + symbol + "/" + strategy
	raw, err := p.st.GetMetadata(p.SessionID(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to load position meta for %s/%s: %w", symbol, strategy, err)
	}
	if raw == nil {
		return nil, nil
	}
	var meta domain.PositionMeta
	if err := json.Unmarshal([]byte(*raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode position meta for %s/%s: %w", symbol, strategy, err)
	}
	return &meta, nil
}

// SaveMeta stores the protective state for a (symbol, strategy) position.
// A nil meta deletes the entry.
func (p *Portfolio) SaveMeta(symbol, strategy string, meta *domain.PositionMeta) error {
	if meta == nil {
		return p.DeleteMeta(symbol, strategy)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode position meta for %s/%s: %w", symbol, strategy, err)
	}
	if err := p.st.SetMetadata(p.SessionID(), metaKeyPrefix+symbol+"/"+strategy, string(raw)); err != nil {
		return fmt.Errorf("failed to save position meta for %s/%s: %w", symbol, strategy, err)
	}
	return nil
}

// DeleteMeta removes the protective state after a position closes
func (p *Portfolio) DeleteMeta(symbol, strategy string) error {
	if err := p.st.DeleteMetadata(p.SessionID(), metaKeyPrefix+symbol+"/"+strategy); err != nil {
		return fmt.Errorf("failed to delete position meta for %s/%s: %w", symbol, strategy, err)
	}
	return nil
}
