package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/metrics"
	"github.com/simara-svatopluk/event-sourcing-occurrent/middleware/tracing"
)

// ServiceName identifies the CLI in metrics and traces.
const ServiceName = "guessgame"

// metricsServer serves /metrics for one registry.
type metricsServer struct {
	server   *http.Server
	listener net.Listener
}

// startMetrics registers the collectors of m and serves them on addr.
func startMetrics(addr string, m *metrics.Metrics, logger occurrent.Logger) (*metricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s := &metricsServer{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", s.Addr())
	return s, nil
}

// Addr returns the address the server listens on.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *metricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// startTracing exports spans to w as pretty-printed JSON.
func startTracing(w io.Writer) (*tracing.Tracer, func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(w))
	if err != nil {
		return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", ServiceName),
			attribute.String("service.version", Version),
		)),
	)

	tracer := tracing.NewTracer(tracing.WithTracerProvider(tp), tracing.WithServiceName(ServiceName))
	return tracer, tp.Shutdown, nil
}
