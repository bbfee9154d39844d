package inference

import (
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/oncoscopic-api/internal/model"
)

// LoadConfig names the artifacts read at startup.
type LoadConfig struct {
	ModelPath    string
	MetadataPath string
	// LabelsPath overrides the vocabulary; when empty the metadata classes
	// are used, then the built-in lesion labels.
	LabelsPath        string
	SharedLibraryPath string
	Sessions          int
}

// OpenFunc opens a classifier. model.NewONNXClassifier is the production one.
type OpenFunc func(cfg model.ONNXConfig) (model.Classifier, error)

func OpenONNX(cfg model.ONNXConfig) (model.Classifier, error) {
	return model.NewONNXClassifier(cfg)
}

// Artifacts is what startup managed to load. Each half fails on its own so
// callers can report which one is missing.
type Artifacts struct {
	Metadata      model.Metadata
	Vocabulary    *model.Vocabulary
	Classifier    model.Classifier
	VocabularyErr error
	ClassifierErr error
}

// Err joins both load failures, nil when everything loaded.
func (a Artifacts) Err() error {
	switch {
	case a.ClassifierErr != nil && a.VocabularyErr != nil:
		return errors.Wrapf(a.ClassifierErr, "label vocabulary: %v; classifier", a.VocabularyErr)
	case a.ClassifierErr != nil:
		return a.ClassifierErr
	default:
		return a.VocabularyErr
	}
}

// Close releases the classifier if one was opened.
func (a Artifacts) Close() error {
	if a.Classifier == nil {
		return nil
	}
	return a.Classifier.Close()
}

// LoadArtifacts reads metadata, vocabulary and classifier exactly once.
func LoadArtifacts(cfg LoadConfig, open OpenFunc, logger *log.Logger) Artifacts {
	l := entry(logger)
	var a Artifacts

	if cfg.MetadataPath != "" {
		metadata, err := model.LoadMetadata(cfg.MetadataPath)
		switch {
		case err == nil:
			a.Metadata = metadata
		case errors.Is(err, os.ErrNotExist):
			l.WithField("path", cfg.MetadataPath).Debug("[Load] No metadata sidecar, inspecting model instead")
		default:
			a.ClassifierErr = err
		}
	}

	a.Vocabulary, a.VocabularyErr = loadVocabulary(cfg.LabelsPath, a.Metadata)
	if a.VocabularyErr != nil {
		l.WithError(a.VocabularyErr).Error("[Load] Couldn't load label vocabulary")
	} else {
		l.WithField("labels", a.Vocabulary.Labels()).Info("[Load] Label vocabulary loaded")
	}

	if a.ClassifierErr != nil {
		l.WithError(a.ClassifierErr).Error("[Load] Couldn't read model metadata")
		return a
	}

	l.WithField("path", cfg.ModelPath).Info("[Load] Loading model")
	classifier, err := open(model.ONNXConfig{
		ModelPath:         cfg.ModelPath,
		Metadata:          a.Metadata,
		SharedLibraryPath: cfg.SharedLibraryPath,
		Sessions:          cfg.Sessions,
	})
	if err != nil {
		a.ClassifierErr = err
		l.WithError(err).Error("[Load] Couldn't load model")
		return a
	}
	a.Classifier = classifier
	return a
}

func loadVocabulary(path string, metadata model.Metadata) (*model.Vocabulary, error) {
	switch {
	case path != "":
		return model.LoadVocabulary(path)
	case len(metadata.Classes) > 0:
		return model.NewVocabulary(metadata.Classes)
	default:
		return model.DefaultVocabulary(), nil
	}
}

// NewFromArtifacts builds a serving pipeline. When anything failed to load,
// or the classifier and vocabulary disagree, it returns an uninitialized
// pipeline together with the cause.
func NewFromArtifacts(a Artifacts, opts Options) (*Pipeline, error) {
	if err := a.Err(); err != nil {
		return NewUninitialized(err, a.Vocabulary, opts), err
	}
	p, err := New(a.Classifier, a.Vocabulary, opts)
	if err != nil {
		return NewUninitialized(err, a.Vocabulary, opts), err
	}
	return p, nil
}
