// Package manifest reads the dataset index and partitions its rows into the
// train, test and validation splits.
package manifest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Column names of the manifest header.
const (
	ColumnClassID  = "class id"
	ColumnFilepath = "filepaths"
	ColumnLabel    = "labels"
	ColumnSplit    = "data set"
)

var (
	ErrUnknownSplit  = errors.New("unknown data set")
	ErrMissingColumn = errors.New("missing manifest column")
)

// Split identifies the partition an observation belongs to.
type Split int

const (
	Train Split = iota
	Test
	Valid
)

// Splits lists every split in preparation order.
var Splits = []Split{Train, Test, Valid}

var splitNames = [...]string{Train: "train", Test: "test", Valid: "valid"}

func (s Split) String() string {
	if s < 0 || int(s) >= len(splitNames) {
		return fmt.Sprintf("Split(%d)", int(s))
	}
	return splitNames[s]
}

// ParseSplit converts a manifest token. Only the exact lower case names are
// accepted.
func ParseSplit(token string) (Split, error) {
	for s, name := range splitNames {
		if token == name {
			return Split(s), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSplit, token)
}

// Observation is one manifest row.
type Observation struct {
	ClassID string
	Path    string
	Label   string
	Split   Split
}

// ObservationSet holds the observations of each split in manifest order.
type ObservationSet struct {
	Train []Observation
	Test  []Observation
	Valid []Observation
}

// Split returns the observations of s.
func (o *ObservationSet) Split(s Split) []Observation {
	switch s {
	case Train:
		return o.Train
	case Test:
		return o.Test
	case Valid:
		return o.Valid
	}
	return nil
}

// Len returns the number of observations over all splits.
func (o *ObservationSet) Len() int {
	return len(o.Train) + len(o.Test) + len(o.Valid)
}

func (o *ObservationSet) String() string {
	return fmt.Sprintf("Observations [ train: %d, test: %d, valid: %d ]", len(o.Train), len(o.Test), len(o.Valid))
}

// Index reads the manifest at path and resolves image paths against baseDir.
func Index(path, baseDir string) (*ObservationSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	set, err := Read(bufio.NewReader(f), baseDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Read parses a manifest. Indexing stops at the first row with an unknown
// split token. Files are not checked for existence.
func Read(r io.Reader, baseDir string) (*ObservationSet, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", baseDir, err)
	}
	rdr := csv.NewReader(r)
	head, err := rdr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty manifest", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest header: %w", err)
	}
	cols, err := columns(head)
	if err != nil {
		return nil, err
	}

	set := &ObservationSet{}
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		split, err := ParseSplit(rec[cols[ColumnSplit]])
		if err != nil {
			line, _ := rdr.FieldPos(cols[ColumnSplit])
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		obs := Observation{
			ClassID: rec[cols[ColumnClassID]],
			Path:    resolve(base, rec[cols[ColumnFilepath]]),
			Label:   rec[cols[ColumnLabel]],
			Split:   split,
		}
		switch split {
		case Train:
			set.Train = append(set.Train, obs)
		case Test:
			set.Test = append(set.Test, obs)
		case Valid:
			set.Valid = append(set.Valid, obs)
		}
	}
	return set, nil
}

func columns(head []string) (map[string]int, error) {
	cols := make(map[string]int, len(head))
	for i, name := range head {
		if _, ok := cols[name]; !ok {
			cols[name] = i
		}
	}
	for _, name := range []string{ColumnClassID, ColumnFilepath, ColumnLabel, ColumnSplit} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
