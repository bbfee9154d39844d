// Command predict classifies one lesion image and prints the result as a
// JSON line. When the classifier cannot be loaded it falls back to a coarse
// brightness/contrast heuristic and marks the output "degraded".
package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/oncoscopic-api/internal/client"
	"github.com/Brownie44l1/oncoscopic-api/internal/config"
	"github.com/Brownie44l1/oncoscopic-api/internal/inference"
	"github.com/Brownie44l1/oncoscopic-api/internal/logging"
	"github.com/Brownie44l1/oncoscopic-api/internal/model"
	"github.com/Brownie44l1/oncoscopic-api/internal/preprocess"
)

type errorOutput struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, inference.OpenONNX))
}

func run(args []string, stdout, stderr io.Writer, open inference.OpenFunc) int {
	cfg, err := config.LoadCLI(args)
	if err != nil {
		return fail(stderr, err)
	}
	logger, err := logging.New("text", cfg.LogLevel, stderr)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	pred, err := predict(ctx, cfg, open, logger)
	if err != nil {
		return fail(stderr, err)
	}
	if !cfg.Probabilities {
		pred.Probabilities = nil
	}
	if err := json.NewEncoder(stdout).Encode(pred); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func predict(ctx context.Context, cfg config.CLI, open inference.OpenFunc, logger *log.Logger) (model.Prediction, error) {
	if info, err := os.Stat(cfg.ImagePath); err != nil || info.IsDir() {
		return model.Prediction{}, errors.Errorf("Image file not found: %s", cfg.ImagePath)
	}

	if cfg.Remote != "" {
		logger.WithField("url", cfg.Remote).Debug("[Predict] Sending image to server")
		return client.New(cfg.Remote, cfg.Timeout).PredictFile(ctx, cfg.ImagePath, cfg.Probabilities)
	}

	filter, err := preprocess.ParseFilter(cfg.ResizeFilter)
	if err != nil {
		return model.Prediction{}, err
	}

	artifacts := inference.LoadArtifacts(inference.LoadConfig{
		ModelPath:         cfg.ModelPath,
		MetadataPath:      cfg.MetadataPath,
		LabelsPath:        cfg.LabelsPath,
		SharedLibraryPath: cfg.ORTLibPath,
		Sessions:          1,
	}, open, logger)
	defer artifacts.Close()

	if artifacts.VocabularyErr != nil {
		return model.Prediction{}, artifacts.VocabularyErr
	}

	opts := inference.Options{
		Preprocess: preprocess.Options{Size: artifacts.Metadata.ImageSize, Filter: filter},
		Logger:     logger,
	}
	if artifacts.ClassifierErr != nil {
		if cfg.NoFallback {
			return model.Prediction{}, artifacts.ClassifierErr
		}
		return fallback(cfg.ImagePath, opts.Preprocess, artifacts.ClassifierErr, logger)
	}

	pipeline, err := inference.New(artifacts.Classifier, artifacts.Vocabulary, opts)
	if err != nil {
		return model.Prediction{}, err
	}
	return pipeline.PredictFile(ctx, cfg.ImagePath)
}

// fallback runs the heuristic; its output is flagged degraded.
func fallback(path string, opts preprocess.Options, cause error, logger *log.Logger) (model.Prediction, error) {
	logger.WithError(cause).Warn("[Predict] Classifier unavailable, using degraded heuristic")
	if opts.Size <= 0 {
		opts.Size = model.DefaultImageSize
	}
	tensor, err := preprocess.FromFile(path, opts)
	if err != nil {
		return model.Prediction{}, err
	}
	return model.Heuristic(tensor), nil
}

func fail(stderr io.Writer, err error) int {
	out := errorOutput{Error: err.Error()}
	var remote *client.RemoteError
	if errors.As(err, &remote) {
		out.Traceback = remote.Traceback
	} else {
		out.Traceback = inference.Traceback(err)
	}
	json.NewEncoder(stderr).Encode(out)
	return 1
}
