package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apirelay/gateway/internal/admission"
	"github.com/apirelay/gateway/internal/circuitbreaker"
	"github.com/apirelay/gateway/internal/jsonstream"
	"github.com/apirelay/gateway/internal/metrics"
	"github.com/apirelay/gateway/internal/upstream"
)

// Handler is the forwarding core: it validates the request body,
// selects a target, and runs the upstream call under admission control
// and the operation's circuit breaker.
type Handler struct {
	logger           *slog.Logger
	rotation         *Rotation
	breakers         *circuitbreaker.Registry
	admission        *admission.Controller
	validatorCfg     jsonstream.Config
	metricsCollector *metrics.Collector
}

func NewHandler(
	logger *slog.Logger,
	rotation *Rotation,
	breakers *circuitbreaker.Registry,
	controller *admission.Controller,
	validatorCfg jsonstream.Config,
	collector *metrics.Collector,
) *Handler {
	return &Handler{
		logger:           logger,
		rotation:         rotation,
		breakers:         breakers,
		admission:        controller,
		validatorCfg:     validatorCfg,
		metricsCollector: collector,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := extractClientIP(r)

	h.logger.Info("Received request",
		slog.String("from", clientIP),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("proto", r.Proto),
		slog.String("host", r.Host),
		slog.String("user_agent", r.UserAgent()))

	body, ok := h.readAndValidateBody(w, r)
	if !ok {
		return
	}

	target, err := h.rotation.Next(r.Method)
	if err != nil {
		h.logger.Warn("No available upstream targets", slog.String("client", clientIP))
		http.Error(w, "No available upstream target", http.StatusServiceUnavailable)
		return
	}

	origin := target.Origin()
	operation := OperationKey(r.Method, origin)

	h.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestReceived,
		Timestamp: time.Now(),
		Origin:    origin,
	})

	h.logger.Info("Forwarding to upstream",
		slog.String("client", clientIP),
		slog.String("origin", origin),
		slog.String("operation", operation))

	dest := target.URL().JoinPath(r.URL.Path)
	dest.RawQuery = r.URL.RawQuery

	header := r.Header.Clone()
	header.Set("X-Forwarded-For", clientIP)

	var res *upstream.Response
	enqueued := time.Now()

	err = h.admission.Do(r.Context(), origin, func(client *http.Client) error {
		if wait := time.Since(enqueued); wait >= time.Millisecond {
			h.emitEvent(metrics.MetricEvent{
				Type:      metrics.EventRequestQueued,
				Timestamp: time.Now(),
				Origin:    origin,
				Duration:  wait,
			})
		}

		return h.breakers.Execute(r.Context(), operation, func(ctx context.Context) error {
			var callErr error
			res, callErr = upstream.Call(ctx, client, upstream.Request{
				URL:    dest.String(),
				Method: r.Method,
				Header: header,
				Body:   body,
			})
			return callErr
		})
	})
	if err != nil {
		h.writeUpstreamError(w, operation, origin, err)
		return
	}

	h.emitEvent(metrics.MetricEvent{
		Type:       metrics.EventUpstreamCompleted,
		Timestamp:  time.Now(),
		Origin:     origin,
		Duration:   res.ResponseTime,
		StatusCode: res.StatusCode,
	})

	for key, values := range res.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("X-Upstream-Target", origin)
	w.WriteHeader(res.StatusCode)
	w.Write(res.Body)
}

// readAndValidateBody streams the request body chunk by chunk through a
// structural validator, then parses the accumulated payload once. A
// false return means the response has already been written.
func (h *Handler) readAndValidateBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.ContentLength == 0 {
		return nil, true
	}

	validator := jsonstream.NewValidator(h.validatorCfg)
	cfg := validator.Config()
	rc := http.NewResponseController(w)
	chunk := make([]byte, cfg.MaxChunkSize)
	deadlines := true

	for {
		if deadlines {
			if err := rc.SetReadDeadline(time.Now().Add(cfg.ChunkTimeout)); err != nil {
				// The underlying writer does not support read deadlines.
				h.logger.Debug("Read deadlines unsupported, streaming without chunk timeout",
					slog.String("error", err.Error()))
				deadlines = false
			}
		}

		n, readErr := r.Body.Read(chunk)
		if n > 0 {
			result := validator.ValidateChunk(chunk[:n])
			if !result.Valid {
				h.writeValidationError(w, result.Err)
				return nil, false
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			h.logger.Warn("Failed to read request body", slog.String("error", readErr.Error()))
			http.Error(w, "Failed to read request body", http.StatusBadRequest)
			return nil, false
		}
	}

	if validator.BytesProcessed() == 0 {
		return nil, true
	}

	if !validator.Complete() {
		h.writeValidationError(w, &jsonstream.MalformedPayloadError{
			Err: errors.New("request body ended mid-document"),
		})
		return nil, false
	}

	if _, err := jsonstream.Parse(validator.Bytes()); err != nil {
		h.writeValidationError(w, err)
		return nil, false
	}

	return validator.Bytes(), true
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	limit := "malformed"

	var structErr *jsonstream.StructureError
	if errors.As(err, &structErr) {
		limit = string(structErr.Kind)
		switch structErr.Kind {
		case jsonstream.LimitSize:
			status = http.StatusRequestEntityTooLarge
		default:
			status = http.StatusUnprocessableEntity
		}
	}

	h.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventValidationRejected,
		Timestamp: time.Now(),
		Limit:     limit,
	})

	h.logger.Warn("Rejected request body", slog.String("reason", err.Error()))
	http.Error(w, err.Error(), status)
}

func (h *Handler) writeUpstreamError(w http.ResponseWriter, operation, origin string, err error) {
	var openErr *circuitbreaker.OpenError
	if errors.As(err, &openErr) {
		h.emitEvent(metrics.MetricEvent{
			Type:      metrics.EventCircuitRejected,
			Timestamp: time.Now(),
			Operation: operation,
		})
		seconds := int(openErr.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		http.Error(w, "Upstream temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	var timeoutErr *circuitbreaker.TimeoutError
	if errors.As(err, &timeoutErr) {
		h.logger.Warn("Upstream call timed out", slog.String("operation", operation))
		http.Error(w, "Upstream timed out", http.StatusGatewayTimeout)
		return
	}

	var netErr *upstream.NetworkError
	if errors.As(err, &netErr) {
		h.logger.Warn("Upstream call failed",
			slog.String("origin", origin),
			slog.String("error", err.Error()))
		http.Error(w, "Upstream unreachable", http.StatusBadGateway)
		return
	}

	if errors.Is(err, context.Canceled) {
		// Client went away while queued or in flight.
		return
	}

	h.logger.Error("Unexpected forwarding failure",
		slog.String("operation", operation),
		slog.String("error", err.Error()))
	http.Error(w, "Upstream call failed", http.StatusBadGateway)
}

func (h *Handler) emitEvent(event metrics.MetricEvent) {
	if h.metricsCollector == nil {
		return
	}
	h.metricsCollector.Emit(event)
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
