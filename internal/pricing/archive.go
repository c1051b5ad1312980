package pricing

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeSnapshot serializes a sealed snapshot for the archive table. The
// archive makes every decision trace price reproducible after the fact.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	payload, err := msgpack.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot %s: %w", s.CycleID, err)
	}
	return payload, nil
}

// DecodeSnapshot restores a snapshot from its archived payload
func DecodeSnapshot(payload []byte) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to decode archived snapshot: %w", err)
	}
	return &s, nil
}
