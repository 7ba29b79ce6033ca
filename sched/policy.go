package sched

import (
	"fmt"
	"math"
)

// RatePolicy computes the learning rate for an epoch that has no record yet.
// Implementations MUST NOT modify the history — History.GetRate performs the
// write-back.
type RatePolicy interface {
	RateForEpoch(h *History, epoch int) (float64, error)
}

// Constant returns the initial rate for every epoch.
type Constant struct {
	Initial float64
}

func (c *Constant) RateForEpoch(_ *History, _ int) (float64, error) {
	return c.Initial, nil
}

// NewbobRelative decays the previous epoch's rate when the relative error
// change between the two most recent completed epochs,
// (newErr - oldErr) / abs(newErr), exceeds RelativeErrorThreshold.
type NewbobRelative struct {
	Initial                float64
	RelativeErrorThreshold float64
	DecayFactor            float64
}

func (n *NewbobRelative) RateForEpoch(h *History, epoch int) (float64, error) {
	rate, oldErr, newErr, settled, err := decayInputs(h, epoch, n.Initial)
	if err != nil || !settled {
		return rate, err
	}
	relative := (newErr - oldErr) / math.Abs(newErr)
	if relative > n.RelativeErrorThreshold {
		rate *= n.DecayFactor
	}
	return rate, nil
}

// NewbobAbsolute decays the previous epoch's rate when the absolute error
// change between the two most recent completed epochs, newErr - oldErr,
// exceeds ErrorThreshold.
type NewbobAbsolute struct {
	Initial        float64
	ErrorThreshold float64
	DecayFactor    float64
}

func (n *NewbobAbsolute) RateForEpoch(h *History, epoch int) (float64, error) {
	rate, oldErr, newErr, settled, err := decayInputs(h, epoch, n.Initial)
	if err != nil || !settled {
		return rate, err
	}
	if newErr-oldErr > n.ErrorThreshold {
		rate *= n.DecayFactor
	}
	return rate, nil
}

// decayInputs walks back two epochs from epoch and fetches the error values a
// newbob comparison needs. settled=false means the history is too short for a
// comparison (epochs 1 and 2, or no resolvable error measure) and rate must
// be used unchanged.
func decayInputs(h *History, epoch int, initial float64) (rate, oldErr, newErr float64, settled bool, err error) {
	prev, ok := h.LastEpochBefore(epoch)
	if !ok {
		return initial, 0, 0, false, nil
	}
	rec, _ := h.Record(prev)
	rate = rec.LearningRate
	prev2, ok := h.LastEpochBefore(prev)
	if !ok {
		return rate, 0, 0, false, nil
	}
	if _, ok := h.ErrorKey(); !ok {
		return rate, 0, 0, false, nil
	}
	oldErr, err = h.ErrorValue(prev2)
	if err != nil {
		return rate, 0, 0, false, err
	}
	newErr, err = h.ErrorValue(prev)
	if err != nil {
		return rate, 0, 0, false, err
	}
	return rate, oldErr, newErr, true, nil
}

// ValidPolicies is the set of recognized learning-rate-control names.
// Shared by FromConfig and NewRatePolicy to avoid duplication. The newbob
// aliases all select the relative variant, which old setups expect.
var ValidPolicies = map[string]bool{
	"constant":        true,
	"newbob":          true,
	"newbob_rel":      true,
	"newbob_relative": true,
	"newbob_abs":      true,
}

// NewRatePolicy creates a rate policy by name, reading its parameters from
// cfg. Unknown names are a configuration error.
func NewRatePolicy(name string, cfg *Config) (RatePolicy, error) {
	if !ValidPolicies[name] {
		return nil, fmt.Errorf("unknown learning-rate-control type %q; valid types: [constant, newbob, newbob_rel, newbob_relative, newbob_abs]", name)
	}
	initial := cfg.Float(KeyLearningRate, 1.0)
	switch name {
	case "constant":
		return &Constant{Initial: initial}, nil
	case "newbob", "newbob_rel", "newbob_relative":
		return &NewbobRelative{
			Initial:                initial,
			RelativeErrorThreshold: cfg.Float(KeyNewbobRelativeErrorThreshold, -0.01),
			DecayFactor:            cfg.Float(KeyNewbobLearningRateDecay, 0.5),
		}, nil
	case "newbob_abs":
		return &NewbobAbsolute{
			Initial:        initial,
			ErrorThreshold: cfg.Float(KeyNewbobErrorThreshold, -0.01),
			DecayFactor:    cfg.Float(KeyNewbobLearningRateDecay, 0.5),
		}, nil
	default:
		panic(fmt.Sprintf("unhandled learning-rate-control type %q", name))
	}
}
