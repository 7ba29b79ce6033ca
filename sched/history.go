package sched

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// History is the epoch-indexed store for one training run. It owns the
// epoch -> EpochRecord mapping, consults its RatePolicy for epochs that have
// no record yet, and persists the full mapping to an optional YAML file so a
// resumed run reconstructs the schedule exactly.
//
// Epochs start at 1; epoch 1 is seeded with the initial rate at construction.
// Records are never removed. A History is used by a single goroutine.
type History struct {
	epochs     map[int]*EpochRecord
	initial    float64
	measureKey string // configured error-measure key; "" means resolve from records
	path       string // persistence path; "" disables Save/Load
	policy     RatePolicy
}

// NewHistory creates a store seeded with the initial rate for epoch 1 and
// attaches the policy that computes rates for unseen epochs. When path names
// an existing file, the persisted history is loaded immediately, replacing
// the seed.
func NewHistory(initial float64, measureKey, path string, policy RatePolicy) (*History, error) {
	h := &History{
		epochs:     map[int]*EpochRecord{1: NewEpochRecord(initial)},
		initial:    initial,
		measureKey: measureKey,
		path:       path,
		policy:     policy,
	}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := h.Load(); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

// GetRate returns the learning rate for epoch. For an epoch with no record
// the rate is computed by the attached policy, cached as a new record with an
// empty error map, and returned. Panics if epoch < 1.
func (h *History) GetRate(epoch int) (float64, error) {
	if epoch < 1 {
		panic(fmt.Sprintf("epoch %d out of range: epochs start at 1", epoch))
	}
	if rec, ok := h.epochs[epoch]; ok {
		return rec.LearningRate, nil
	}
	rate, err := h.policy.RateForEpoch(h, epoch)
	if err != nil {
		return 0, err
	}
	h.SetRate(epoch, rate)
	return rate, nil
}

// SetRate upserts the rate for epoch. An existing record keeps its error map;
// a missing record is created with an empty one.
func (h *History) SetRate(epoch int, rate float64) {
	if rec, ok := h.epochs[epoch]; ok {
		rec.LearningRate = rate
		return
	}
	h.epochs[epoch] = NewEpochRecord(rate)
}

// LastEpochBefore returns the largest recorded epoch strictly less than
// epoch, or false when no such epoch exists.
func (h *History) LastEpochBefore(epoch int) (int, bool) {
	last, found := 0, false
	for e := range h.epochs {
		if e < epoch && e > last {
			last, found = e, true
		}
	}
	return last, found
}

// SetError merges the reported metrics into epoch's error map, overwriting
// existing keys. Panics when the epoch has no record: the training loop must
// call GetRate for an epoch before reporting its results.
func (h *History) SetError(epoch int, metrics map[string]float64) {
	rec, ok := h.epochs[epoch]
	if !ok {
		panic(fmt.Sprintf("no record for epoch %d: GetRate(%d) was never called", epoch, epoch))
	}
	for k, v := range metrics {
		rec.Error[k] = v
	}
}

// ErrorKey resolves the metric name used when a single scalar error is
// needed. A configured error-measure key always wins; otherwise the key is
// derived from the earliest epoch's error map. The fixed preference order
// below keeps old setups producing the same behavior.
func (h *History) ErrorKey() (string, bool) {
	if h.measureKey != "" {
		return h.measureKey, true
	}
	if len(h.epochs) == 0 {
		return "", false
	}
	first := h.epochs[h.earliestEpoch()]
	if len(first.Error) == 0 {
		return "", false
	}
	if len(first.Error) == 1 {
		for k := range first.Error {
			return k, true
		}
	}
	for _, k := range []string{"dev_score", "train_score"} {
		if _, ok := first.Error[k]; ok {
			return k, true
		}
	}
	keys := make([]string, 0, len(first.Error))
	for k := range first.Error {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0], true
}

// ErrorValue returns the resolved error metric for epoch. A resolvable key
// that is absent from the epoch's map is a configuration problem, reported
// with the option the operator has to set.
func (h *History) ErrorValue(epoch int) (float64, error) {
	key, ok := h.ErrorKey()
	if !ok {
		return 0, fmt.Errorf("no error measure resolvable for epoch %d: set %s in your config", epoch, KeyErrorMeasure)
	}
	rec, ok := h.epochs[epoch]
	if !ok {
		return 0, fmt.Errorf("no record for epoch %d", epoch)
	}
	v, ok := rec.Error[key]
	if !ok {
		return 0, fmt.Errorf("error measure %q not in %v for epoch %d: fix %s in your config, e.g. set it to %q",
			key, rec.Error, epoch, KeyErrorMeasure, "dev_score")
	}
	return v, nil
}

// Save writes the full epoch mapping to the configured path, overwriting it.
// A store without a path is a no-op. Save is a best-effort checkpoint: the
// write is not atomic.
func (h *History) Save() error {
	if h.path == "" {
		return nil
	}
	data, err := yaml.Marshal(h.epochs)
	if err != nil {
		return fmt.Errorf("encoding learning rate history: %w", err)
	}
	if err := os.WriteFile(h.path, data, 0o644); err != nil {
		return fmt.Errorf("writing learning rate history: %w", err)
	}
	return nil
}

// Load replaces the in-memory mapping with the contents of the configured
// path. A store without a path, or a path that does not exist, is a no-op.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading learning rate history: %w", err)
	}
	epochs := map[int]*EpochRecord{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&epochs); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing learning rate history %s: %w", h.path, err)
	}
	for e := range epochs {
		if e < 1 {
			return fmt.Errorf("parsing learning rate history %s: epoch %d out of range", h.path, e)
		}
	}
	h.epochs = epochs
	logrus.Debugf("Loaded learning rate history from %s: %d epochs", h.path, len(epochs))
	return nil
}

// Epochs returns the recorded epoch numbers in ascending order.
func (h *History) Epochs() []int {
	epochs := make([]int, 0, len(h.epochs))
	for e := range h.epochs {
		epochs = append(epochs, e)
	}
	sort.Ints(epochs)
	return epochs
}

// Record returns the record for epoch, or false when none exists. The record
// is shared with the store, not a copy.
func (h *History) Record(epoch int) (*EpochRecord, bool) {
	rec, ok := h.epochs[epoch]
	return rec, ok
}

func (h *History) earliestEpoch() int {
	first, found := 0, false
	for e := range h.epochs {
		if !found || e < first {
			first, found = e, true
		}
	}
	return first
}

func (h *History) String() string {
	parts := make([]string, 0, len(h.epochs))
	for _, e := range h.Epochs() {
		parts = append(parts, fmt.Sprintf("%d: %s", e, h.epochs[e]))
	}
	return fmt.Sprintf("initial rate %g, epoch data: %s", h.initial, strings.Join(parts, ", "))
}
