package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// FormatVersion is written into every snapshot.
const FormatVersion = "1.0.0"

// formatConstraint selects the snapshot versions this build can restore.
var formatConstraint = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// KeyPrefix prefixes the store key of every snapshot.
const KeyPrefix = "workflow-state-"

// Key returns the store key for an entity's snapshot.
func Key(entityID string) string {
	return KeyPrefix + entityID
}

// Snapshot is the persisted form of an in-progress workflow.
type Snapshot struct {
	FormData      contracts.FormData `json:"formData"`
	CurrentStep   contracts.Step     `json:"currentStep"`
	Timestamp     time.Time          `json:"timestamp"`
	EntityID      string             `json:"entityId"`
	FormatVersion string             `json:"formatVersion"`
}

// Encode serializes the snapshot.
func (s *Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot and checks that its format version is one this
// build understands.
func Decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	v, err := semver.NewVersion(s.FormatVersion)
	if err != nil {
		return nil, fmt.Errorf("snapshot format version %q: %w", s.FormatVersion, err)
	}
	if !formatConstraint.Check(v) {
		return nil, fmt.Errorf("snapshot format %s does not satisfy %s", v, formatConstraint)
	}
	if !s.CurrentStep.Valid() {
		return nil, fmt.Errorf("snapshot step %d out of range", int(s.CurrentStep))
	}
	return &s, nil
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}
