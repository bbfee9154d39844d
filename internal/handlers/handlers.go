package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/oncoscopic-api/internal/inference"
	"github.com/Brownie44l1/oncoscopic-api/internal/metrics"
	"github.com/Brownie44l1/oncoscopic-api/internal/model"
	"github.com/Brownie44l1/oncoscopic-api/internal/report"
	"github.com/Brownie44l1/oncoscopic-api/internal/store"
)

var errUploadTooLarge = errors.New("uploaded file is too large")

type Options struct {
	ServiceName string
	// LegacyStatus answers handled errors with 200 instead of 4xx/5xx.
	LegacyStatus   bool
	MaxUploadBytes int64
	CORSOrigins    []string
}

type Handler struct {
	pipeline *inference.Pipeline
	store    store.Store
	metrics  *metrics.Collector
	reporter report.Reporter
	log      *log.Logger
	opts     Options
}

// NewHandler wires the request handlers. results, collector and reporter
// may be nil.
func NewHandler(pipeline *inference.Pipeline, results store.Store, collector *metrics.Collector,
	reporter report.Reporter, logger *log.Logger, opts Options) *Handler {
	if logger == nil {
		logger = log.New()
		logger.SetOutput(io.Discard)
	}
	if reporter == nil {
		reporter = report.Nop{}
	}
	if collector == nil {
		collector = metrics.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	collector.SetModelLoaded(pipeline.Status().ModelLoaded)
	return &Handler{
		pipeline: pipeline,
		store:    results,
		metrics:  collector,
		reporter: reporter,
		log:      logger,
		opts:     opts,
	}
}

// Router builds the gin engine with every route and middleware.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		RequestID(),
		Recovery(h.log),
		Logger(h.log, h.metrics),
		CORS(h.opts.CORSOrigins),
	)

	router.GET("/", h.Root)
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	router.POST("/predict", h.Predict)
	router.POST("/predict/tensor", h.PredictTensor)
	if h.store != nil {
		router.GET("/predict/:id", h.GetPrediction)
	}
	return router
}

type rootResponse struct {
	Message            string `json:"message"`
	ModelLoaded        bool   `json:"model_loaded"`
	LabelEncoderLoaded bool   `json:"label_encoder_loaded"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Traceback string `json:"traceback,omitempty"`
}

func (h *Handler) Root(c *gin.Context) {
	status := h.pipeline.Status()
	c.JSON(http.StatusOK, rootResponse{
		Message:            h.opts.ServiceName + " is running",
		ModelLoaded:        status.ModelLoaded,
		LabelEncoderLoaded: status.VocabularyLoaded,
	})
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.pipeline.Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Predict classifies an uploaded image sent as multipart field "file"
// (or "image").
func (h *Handler) Predict(c *gin.Context) {
	if err := h.pipeline.Err(); err != nil {
		h.fail(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	data, filename, err := readUpload(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.WithFields(log.Fields{
		"request_id": RequestIDFrom(c),
		"filename":   filename,
		"size":       len(data),
	}).Debug("[Predict] Received file")

	start := time.Now()
	pred, err := h.pipeline.Predict(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.succeed(c, pred, start)
}

// PredictTensor classifies an already normalized NHWC tensor posted as JSON.
func (h *Handler) PredictTensor(c *gin.Context) {
	if err := h.pipeline.Err(); err != nil {
		h.fail(c, err)
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes)
	var req model.PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.WithStack(fmt.Errorf("%w: invalid JSON: %w", inference.ErrNoImage, err)))
		return
	}

	size := h.pipeline.ImageSize()
	tensor := model.NewTensor(size)
	if len(req.Image) != len(tensor.Data) {
		h.fail(c, errors.WithStack(fmt.Errorf("%w: expected %d values, got %d",
			inference.ErrDecode, len(tensor.Data), len(req.Image))))
		return
	}
	for i, v := range req.Image {
		if !(v >= 0 && v <= 1) {
			h.fail(c, errors.WithStack(fmt.Errorf("%w: value %d out of [0, 1]: %v", inference.ErrDecode, i, v)))
			return
		}
	}
	copy(tensor.Data, req.Image)

	start := time.Now()
	pred, err := h.pipeline.PredictTensor(c.Request.Context(), tensor)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.succeed(c, pred, start)
}

// GetPrediction returns a stored prediction by request ID.
func (h *Handler) GetPrediction(c *gin.Context) {
	id := c.Param("id")
	pred, err := h.store.Get(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("id", id).Error("[Predict] Couldn't load stored prediction")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "couldn't load prediction - please try again later"})
		return
	}
	c.JSON(http.StatusOK, pred)
}

func (h *Handler) succeed(c *gin.Context, pred model.Prediction, start time.Time) {
	pred.RequestID = RequestIDFrom(c)
	if want, _ := strconv.ParseBool(c.Query("probabilities")); !want {
		pred.Probabilities = nil
	}
	h.metrics.ObservePrediction(pred.PredictedClass, time.Since(start))

	if h.store != nil {
		// A stored copy is a convenience; the caller still gets the result.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		if err := h.store.Save(ctx, pred.RequestID, pred); err != nil {
			h.log.WithError(err).WithField("request_id", pred.RequestID).Warn("[Predict] Couldn't store prediction")
		}
		cancel()
	}

	h.log.WithFields(log.Fields{
		"request_id": pred.RequestID,
		"class":      pred.PredictedClass,
		"confidence": pred.Confidence,
	}).Info("[Predict] Prediction served")
	c.JSON(http.StatusOK, pred)
}

// fail converts any per-request error into the JSON error payload.
func (h *Handler) fail(c *gin.Context, err error) {
	status, kind := classify(err)
	reqID := RequestIDFrom(c)

	h.metrics.ObserveError(kind)
	entry := h.log.WithError(err).WithFields(log.Fields{
		"request_id": reqID,
		"kind":       kind,
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("[Predict] Request failed")
		h.reporter.Capture(err, map[string]string{"request_id": reqID, "kind": kind})
	} else {
		entry.Warn("[Predict] Request rejected")
	}

	if h.opts.LegacyStatus {
		status = http.StatusOK
	}
	c.JSON(status, errorResponse{Error: err.Error(), Traceback: inference.Traceback(err)})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errUploadTooLarge):
		return http.StatusRequestEntityTooLarge, "upload_too_large"
	case errors.Is(err, inference.ErrNoImage):
		return http.StatusBadRequest, "no_image"
	case errors.Is(err, inference.ErrDecode):
		return http.StatusBadRequest, "decode"
	case errors.Is(err, inference.ErrNotInitialized):
		return http.StatusServiceUnavailable, "not_initialized"
	case errors.Is(err, inference.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "predict"
	}
}

func readUpload(c *gin.Context) ([]byte, string, error) {
	file, header, err := c.Request.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		file, header, err = c.Request.FormFile("image")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", errors.WithStack(fmt.Errorf("%w: limit is %d bytes", errUploadTooLarge, tooLarge.Limit))
		}
		return nil, "", errors.WithStack(fmt.Errorf("%w: use 'file' as the form field name: %w", inference.ErrNoImage, err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.WithStack(fmt.Errorf("%w: %w", inference.ErrNoImage, err))
	}
	return data, header.Filename, nil
}
