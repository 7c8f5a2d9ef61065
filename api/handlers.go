package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"mailbench/benchmark"
	"mailbench/models"
)

// maxEnvelopeBytes bounds webhook bodies; SNS messages are at most 256KB
const maxEnvelopeBytes = 1 << 20

// Pipelines runs the two ingestion approaches
type Pipelines interface {
	Acknowledge(ctx context.Context, approach models.Approach, env *models.Envelope) (*models.StatusResponse, error)
	ProcessObjectStorage(ctx context.Context, env *models.Envelope) (*models.IngestionResult, error)
	ProcessDirectInline(ctx context.Context, env *models.Envelope) (*models.IngestionResult, error)
}

// MetricsSource exposes the recorded latency statistics
type MetricsSource interface {
	Snapshot() models.MetricsSnapshot
}

// ObjectStore is the debug view onto the email bucket
type ObjectStore interface {
	Fetch(ctx context.Context, bucket, key string) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]models.ObjectInfo, error)
}

// DebugConfig selects what the debug endpoints read
type DebugConfig struct {
	Bucket string
	Prefix string
	Key    string
}

// Handler provides HTTP handlers for the API
type Handler struct {
	pipelines Pipelines
	metrics   MetricsSource
	objects   ObjectStore
	gatherer  prometheus.Gatherer
	debug     DebugConfig
}

// NewHandler creates a new API handler. gatherer may be nil, in which case
// /metrics is not served.
func NewHandler(pipelines Pipelines, metrics MetricsSource, objects ObjectStore, gatherer prometheus.Gatherer, debug DebugConfig) *Handler {
	return &Handler{
		pipelines: pipelines,
		metrics:   metrics,
		objects:   objects,
		gatherer:  gatherer,
		debug:     debug,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Webhooks
	mux.HandleFunc("/benchmark/s3-approach", h.webhook(models.ApproachObjectStorage, h.pipelines.ProcessObjectStorage))
	mux.HandleFunc("/benchmark/direct-sns-approach", h.webhook(models.ApproachDirectInline, h.pipelines.ProcessDirectInline))

	mux.HandleFunc("/benchmark/health", h.handleHealth)
	mux.HandleFunc("/benchmark/metrics", h.handleMetrics)

	// Debug passthroughs to the bucket
	mux.HandleFunc("/benchmark/list-objects", h.handleListObjects)
	mux.HandleFunc("/benchmark/get-obj", h.handleGetObject)

	if h.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	return h.requestIDMiddleware(h.corsMiddleware(mux))
}

type processFunc func(ctx context.Context, env *models.Envelope) (*models.IngestionResult, error)

// webhook builds the handler for one approach. Handshakes are acknowledged
// and never reach process.
func (h *Handler) webhook(approach models.Approach, process processFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}

		startTime := time.Now()
		l := zerolog.Ctx(r.Context()).With().Str("approach", string(approach)).Logger()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
		if err != nil {
			l.Error().Err(err).Msg("Failed to read request body")
			writeError(w, http.StatusBadRequest, err)
			return
		}

		env, err := models.ParseEnvelope(body, r.Header.Get(models.MessageTypeHeader))
		if err != nil {
			l.Warn().Err(err).Msg("Rejected envelope")
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if env.Type.IsHandshake() {
			status, err := h.pipelines.Acknowledge(r.Context(), approach, env)
			if err != nil {
				l.Error().Err(err).Msg("Handshake failed")
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, status)
			return
		}

		result, err := process(r.Context(), env)
		if err != nil {
			l.Error().Err(err).Msg("Ingestion failed")
			writeError(w, statusFor(err), err)
			return
		}

		latency := time.Since(startTime).Milliseconds()
		l.Info().Int64("latency", latency).Str("email_id", result.EmailID).Msg("Webhook handled")

		writeJSON(w, http.StatusOK, models.WebhookResponse{
			IngestionResult: *result,
			Latency:         latency,
		})
	}
}

// handleHealth returns a constant status and the current time
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok", Timestamp: &now})
}

// handleMetrics returns the latency snapshot of both approaches
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// handleListObjects lists the configured bucket under the debug prefix
func (h *Handler) handleListObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	objects, err := h.objects.List(r.Context(), h.debug.Bucket, h.debug.Prefix)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to list objects")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, objects)
}

// handleGetObject returns the raw content of the configured debug key
func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	content, err := h.objects.Fetch(r.Context(), h.debug.Bucket, h.debug.Key)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to fetch debug object")
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, content)
}

// statusFor maps pipeline errors to HTTP status codes. Anything that is not a
// problem with the request itself is an upstream failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, benchmark.ErrMalformedMessage),
		errors.Is(err, benchmark.ErrMissingStorageReference),
		errors.Is(err, benchmark.ErrMissingTimestamp),
		errors.Is(err, benchmark.ErrUnsupportedMessageType),
		errors.Is(err, benchmark.ErrMissingSubscribeURL):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

// requestIDMiddleware attaches a request-scoped logger carrying a request ID
func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New().String()
		l := log.With().Str("request_id", id).Str("path", r.URL.Path).Logger()

		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+models.MessageTypeHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
