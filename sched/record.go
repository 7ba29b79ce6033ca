package sched

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// OldFormatScoreKey is the metric name assigned to error values read from
// legacy history files, which stored a single score instead of a metric map.
const OldFormatScoreKey = "old_format_score"

// EpochRecord holds the learning rate used for one epoch and the error
// metrics observed after it ran. Error is empty until the training loop
// reports results via History.SetError.
type EpochRecord struct {
	LearningRate float64            `yaml:"learning_rate"`
	Error        map[string]float64 `yaml:"error"`
}

// NewEpochRecord creates a record with the given rate and no error metrics.
func NewEpochRecord(rate float64) *EpochRecord {
	return &EpochRecord{LearningRate: rate, Error: map[string]float64{}}
}

func (r *EpochRecord) String() string {
	return fmt.Sprintf("learning rate %g, error %v", r.LearningRate, r.Error)
}

// UnmarshalYAML decodes a persisted record, accepting two shapes for the
// error field: a metric-name -> value mapping (current format) or a bare
// scalar (legacy format), which is wrapped as {"old_format_score": value}.
// Any other shape or unknown field is rejected.
func (r *EpochRecord) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: epoch record must be a mapping", value.Line)
	}
	for i := 0; i < len(value.Content); i += 2 {
		switch key := value.Content[i].Value; key {
		case "learning_rate", "error":
		default:
			return fmt.Errorf("line %d: unknown field %q in epoch record", value.Content[i].Line, key)
		}
	}

	var raw struct {
		LearningRate float64   `yaml:"learning_rate"`
		Error        yaml.Node `yaml:"error"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	r.LearningRate = raw.LearningRate
	r.Error = map[string]float64{}

	switch {
	case raw.Error.Kind == 0 || raw.Error.Tag == "!!null":
		// No error reported for this epoch yet.
	case raw.Error.Kind == yaml.ScalarNode:
		var v float64
		if err := raw.Error.Decode(&v); err != nil {
			return fmt.Errorf("line %d: legacy scalar error: %w", raw.Error.Line, err)
		}
		r.Error[OldFormatScoreKey] = v
	case raw.Error.Kind == yaml.MappingNode:
		if err := raw.Error.Decode(&r.Error); err != nil {
			return fmt.Errorf("line %d: error metrics: %w", raw.Error.Line, err)
		}
	default:
		return fmt.Errorf("line %d: error must be a mapping or a scalar", raw.Error.Line)
	}
	return nil
}
