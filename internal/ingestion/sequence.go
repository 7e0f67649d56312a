package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleCommand: source sequence below the expected counter and not
	// a known duplicate. Safe to drop.
	ErrStaleCommand = errors.New("stale command sequence")

	// ErrSequenceGap: source sequence ahead of the expected counter. An
	// earlier command is missing or still in flight.
	ErrSequenceGap = errors.New("command sequence gap")
)

// SequenceValidator validates source sequences per producing partition.
// Producers that stamp commands with a per-partition counter get strict
// ordering: stale duplicates are tolerated, out-of-order new commands and
// gaps are rejected so a lost command is noticed instead of silently
// skipped.
// Not thread-safe — only accessed from the single dispatcher goroutine.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// ValidateSequence checks source sequence ordering.
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			// Already processed — redelivery of an ACK'd command.
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("partition=%s, expected=%d, got=%d: %w",
			partition, expected, sourceSequence, ErrStaleCommand)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	// sourceSequence > expected - gap detected
	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("partition=%s, expected=%d, got=%d: %w",
		partition, expected, sourceSequence, ErrSequenceGap)
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single dispatcher goroutine.
type SequenceMetrics struct {
	gaps       map[string]int64 // partition -> gap count
	outOfOrder map[string]int64 // partition -> out-of-order count
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}
