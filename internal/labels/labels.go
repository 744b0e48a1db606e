// Package labels encodes string labels as dense integer ids.
package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Brownie44l1/plates/internal/manifest"
	"github.com/Brownie44l1/plates/internal/tensor"
)

var (
	ErrUnseenLabel = errors.New("label not present in training split")
	ErrUnknownID   = errors.New("label id not present in label map")
	ErrCorrupt     = errors.New("corrupt label map")
)

// Map is an immutable mapping between labels and ids in [0, Len()).
type Map struct {
	ids    map[string]int
	labels []string
}

// Build derives the map from training observations only. Ids follow the byte
// order of the distinct labels, so the same training split always gives the
// same map.
func Build(train []manifest.Observation) *Map {
	seen := make(map[string]struct{})
	for _, obs := range train {
		seen[obs.Label] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return fromLabels(labels)
}

func fromLabels(labels []string) *Map {
	m := &Map{ids: make(map[string]int, len(labels)), labels: labels}
	for i, label := range labels {
		m.ids[label] = i
	}
	return m
}

// Len returns the number of labels.
func (m *Map) Len() int { return len(m.labels) }

// ID returns the id of label.
func (m *Map) ID(label string) (int, error) {
	id, ok := m.ids[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnseenLabel, label)
	}
	return id, nil
}

// Label returns the label with the given id.
func (m *Map) Label(id int) (string, error) {
	if id < 0 || id >= len(m.labels) {
		return "", fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	return m.labels[id], nil
}

// Labels returns every label ordered by id.
func (m *Map) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Encode returns the label array of a split, in observation order.
func (m *Map) Encode(observations []manifest.Observation) (*tensor.Int64, error) {
	arr := tensor.NewInt64(len(observations))
	for i, obs := range observations {
		id, err := m.ID(obs.Label)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", obs.Path, err)
		}
		arr.Data[i] = int64(id)
	}
	return arr, nil
}

func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ids)
}

func (m *Map) UnmarshalJSON(data []byte) error {
	var ids map[string]int
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	labels := make([]string, len(ids))
	filled := make([]bool, len(ids))
	for label, id := range ids {
		if id < 0 || id >= len(ids) || filled[id] {
			return fmt.Errorf("%w: id %d for %q", ErrCorrupt, id, label)
		}
		labels[id], filled[id] = label, true
	}
	*m = *fromLabels(labels)
	return nil
}

// WriteJSON writes the map as an indented JSON object of label to id.
func (m *Map) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal label map: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// Save writes the map as a JSON object of label to id.
func (m *Map) Save(path string) error {
	return tensor.WriteAtomic(path, func(f *os.File) error { return m.WriteJSON(f) })
}

// Load reads a map written by Save.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label map: %w", err)
	}
	m := &Map{}
	if err := json.Unmarshal(data, m); err != nil {
		if !errors.Is(err, ErrCorrupt) {
			err = fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Len() == 0 {
		return nil, fmt.Errorf("%s: %w: no labels", path, ErrCorrupt)
	}
	return m, nil
}
