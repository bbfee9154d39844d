package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrEmptyVocabulary    = errors.New("label vocabulary is empty")
	ErrVocabularyMismatch = errors.New("label vocabulary does not match classifier output")
	ErrShapeMismatch      = errors.New("tensor shape does not match classifier input")
)

// Order matches the label encoding used at training time.
var canonicalLabels = []string{
	"actinic keratosis",
	"basal cell carcinoma",
	"dermatofibroma",
	"melanoma",
	"nevus",
	"pigmented benign keratosis",
	"squamous cell carcinoma",
}

// Vocabulary is the ordered list of class names aligned with classifier
// output indices. It is immutable once built.
type Vocabulary struct {
	labels []string
	index  map[string]int
}

func NewVocabulary(labels []string) (*Vocabulary, error) {
	if len(labels) == 0 {
		return nil, ErrEmptyVocabulary
	}
	v := &Vocabulary{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, label := range labels {
		clean := strings.TrimSpace(label)
		if clean == "" {
			return nil, errors.Errorf("label %d is blank", i)
		}
		if prev, ok := v.index[clean]; ok {
			return nil, errors.Errorf("label %q repeated at %d and %d", clean, prev, i)
		}
		v.labels[i] = clean
		v.index[clean] = i
	}
	return v, nil
}

// DefaultVocabulary returns the seven-class lesion vocabulary.
func DefaultVocabulary() *Vocabulary {
	v, err := NewVocabulary(canonicalLabels)
	if err != nil {
		panic(err)
	}
	return v
}

// LoadVocabulary reads labels from a file. A .json file holds either a
// string array or a metadata object with "classes"; anything else is read
// as one label per line.
func LoadVocabulary(path string) (*Vocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read label vocabulary")
	}

	var labels []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		labels, err = parseJSONLabels(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse label vocabulary %s", path)
		}
	} else {
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			labels = append(labels, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "failed to read labels file %s", path)
		}
	}

	return NewVocabulary(labels)
}

func parseJSONLabels(raw []byte) ([]string, error) {
	var labels []string
	if err := json.Unmarshal(raw, &labels); err == nil {
		return labels, nil
	}
	var metadata Metadata
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	if len(metadata.Classes) == 0 {
		return nil, ErrEmptyVocabulary
	}
	return metadata.Classes, nil
}

func (v *Vocabulary) Len() int {
	return len(v.labels)
}

func (v *Vocabulary) Label(i int) string {
	return v.labels[i]
}

// Labels returns a copy of the ordered labels.
func (v *Vocabulary) Labels() []string {
	out := make([]string, len(v.labels))
	copy(out, v.labels)
	return out
}

func (v *Vocabulary) Contains(label string) bool {
	_, ok := v.index[label]
	return ok
}
