// Command rfpcore boots the orchestration core as a standalone process: it
// wires the broker, state store, communication manager and orchestrator
// per environment configuration, registers the five stub analysis agents,
// and serves a small monitoring and approval HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/industrial-rfp/workflow-core/agent"
	"github.com/industrial-rfp/workflow-core/approval"
	"github.com/industrial-rfp/workflow-core/broker"
	"github.com/industrial-rfp/workflow-core/comm"
	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/estimator"
	"github.com/industrial-rfp/workflow-core/orchestrator"
	"github.com/industrial-rfp/workflow-core/resilience"
	"github.com/industrial-rfp/workflow-core/statestore"
	"github.com/industrial-rfp/workflow-core/telemetry"
	"github.com/industrial-rfp/workflow-core/workflow"
)

// service bundles everything the HTTP surface needs to answer a request.
type service struct {
	orchestrator *orchestrator.Orchestrator
	approvals    *approval.Manager
	metrics      *telemetry.Metrics
	queues       *telemetry.QueueMonitor
	logger       core.Logger
	serviceName  string
	devMode      bool
}

func newService(cfg *core.Config) (*service, func(context.Context) error, error) {
	logger := cfg.Logger()

	var redisClient *redis.Client
	if cfg.BrokerBackend == "redis" || cfg.StateStoreBackend == "redis" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
	}

	var brk broker.Broker
	switch cfg.BrokerBackend {
	case "redis":
		brk = broker.NewRedisBroker(redisClient, cfg.ServiceName, broker.WithRedisBrokerLogger(logger))
	default:
		brk = broker.NewInProcessBroker(broker.WithBrokerLogger(logger))
	}

	var store statestore.Store
	switch cfg.StateStoreBackend {
	case "redis":
		store = statestore.NewRedisStore(redisClient, cfg.ServiceName, statestore.WithRedisStoreLogger(logger))
	default:
		store = statestore.NewInMemoryStore()
	}

	metrics := telemetry.NewMetrics(core.SystemClock{})
	tracer := telemetry.NewTracer(cfg.MaxTraces, metrics, core.SystemClock{})
	queues := telemetry.NewQueueMonitor(core.SystemClock{})

	otelProvider, err := telemetry.NewOTelProvider(cfg.ServiceName, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init otel provider: %w", err)
	}
	stopMetricsBridge := bridgeMetricsToOTel(metrics, queues, otelProvider)

	breakerCfg := resilience.DefaultCircuitBreakerConfig("")
	breakerCfg.FailureThreshold = cfg.CircuitFailureThreshold
	breakerCfg.SuccessThreshold = cfg.CircuitSuccessThreshold
	breakerCfg.OpenTimeout = cfg.CircuitOpenTimeout

	retryPolicy := resilience.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = cfg.RetryMaxAttempts
	retryPolicy.InitialDelay = cfg.RetryInitialDelay
	retryPolicy.MaxDelay = cfg.RetryMaxDelay

	mgr := comm.NewManager(brk, store,
		comm.WithLogger(logger),
		comm.WithTracer(tracer),
		comm.WithMetrics(metrics),
		comm.WithQueueMonitor(queues),
		comm.WithRetryPolicy(retryPolicy),
		comm.WithCircuitBreakerConfig(breakerCfg),
	)
	if err := mgr.Connect(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("connect communication manager: %w", err)
	}

	templates := workflow.NewTemplateManager()
	if path := os.Getenv("RFP_WORKFLOW_TEMPLATES_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read workflow templates file: %w", err)
		}
		if err := templates.LoadFromYAML(data); err != nil {
			return nil, nil, fmt.Errorf("load workflow templates: %w", err)
		}
	}

	approvals := approval.NewManager(approval.WithLogger(logger))

	orch := orchestrator.New(mgr,
		orchestrator.WithLogger(logger),
		orchestrator.WithApprovals(approvals),
		orchestrator.WithTemplateManager(templates),
		orchestrator.WithEstimator(estimator.New()),
		orchestrator.WithStateStore(store),
	)
	if err := orch.Register(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("register orchestrator: %w", err)
	}

	registerStubAgents(mgr, logger)

	shutdown := func(ctx context.Context) error {
		stopMetricsBridge()
		if err := otelProvider.Shutdown(ctx); err != nil {
			logger.Warn("otel shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		return mgr.Disconnect(ctx)
	}

	return &service{
		orchestrator: orch,
		approvals:    approvals,
		metrics:      metrics,
		queues:       queues,
		logger:       logger,
		serviceName:  cfg.ServiceName,
		devMode:      cfg.Logging.Level == "debug",
	}, shutdown, nil
}

// registerStubAgents wires the five bundled analysis-stage stand-ins
// (parsing/sales/technical/pricing/response generation) so a freshly
// booted process can drive a full workflow without external agents
// already running.
func registerStubAgents(mgr *comm.Manager, logger core.Logger) {
	stubs := map[string]agent.Handler{
		"rfp_parser_agent":         agent.ParsingStub,
		"sales_agent":              agent.SalesAnalysisStub,
		"technical_agent":          agent.TechnicalValidationStub,
		"pricing_agent":            agent.PricingCalculationStub,
		"response_generator_agent": agent.ResponseGenerationStub,
	}
	for id, fn := range stubs {
		if err := mgr.RegisterAgent(context.Background(), id, "worker", []string{id}); err != nil {
			logger.Warn("failed to register stub agent", map[string]interface{}{"agent_id": id, "error": err.Error()})
			continue
		}
		agent.Register(mgr, id, fn, logger)
	}
}

// bridgeMetricsToOTel periodically copies the rolling Metrics/QueueMonitor
// aggregates into the OTel provider's instruments, so they show up
// alongside the per-message spans comm.Manager's tracer already emits.
// Returns a stop function; the ticker goroutine exits once it's called.
func bridgeMetricsToOTel(metrics *telemetry.Metrics, queues *telemetry.QueueMonitor, otelProvider *telemetry.OTelProvider) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := metrics.Snapshot()
				otelProvider.RecordMetric("rfp.latency.mean_ms", float64(snap.Mean.Milliseconds()), nil)
				otelProvider.RecordMetric("rfp.latency.p95_ms", float64(snap.P95.Milliseconds()), nil)
				otelProvider.RecordMetric("rfp.errors.rate_per_min", snap.ErrorRatePerMin, nil)
				for _, q := range queues.All() {
					otelProvider.RecordMetric("rfp.queue.depth", float64(q.Depth), map[string]string{"queue": q.Queue})
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("rfpcore: failed to encode response: %v", err)
	}
}

func (s *service) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/rfp/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			RFPData    map[string]interface{} `json:"rfp_data"`
			TemplateID string                  `json:"template_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		artifact, err := s.orchestrator.ProcessRFP(r.Context(), body.RFPData, body.TemplateID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, artifact)
	})

	mux.HandleFunc("/rfp/cancel/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		workflowID := pathSuffix(r.URL.Path, "/rfp/cancel/")
		if err := s.orchestrator.Cancel(workflowID); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling", "workflow_id": workflowID})
	})

	mux.HandleFunc("/rfp/status/", func(w http.ResponseWriter, r *http.Request) {
		workflowID := pathSuffix(r.URL.Path, "/rfp/status/")
		status, ok := s.orchestrator.GetWorkflowStatus(workflowID)
		if !ok {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.HandleFunc("/rfp/active", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.orchestrator.GetAllActiveWorkflows())
	})

	mux.HandleFunc("/rfp/estimates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.orchestrator.GetTimeEstimates())
	})

	mux.HandleFunc("/rfp/templates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.orchestrator.GetAvailableTemplates())
	})

	mux.HandleFunc("/rfp/visualize/", func(w http.ResponseWriter, r *http.Request) {
		workflowID := pathSuffix(r.URL.Path, "/rfp/visualize/")
		format := r.URL.Query().Get("format")
		if format == "mermaid" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			fmt.Fprint(w, s.orchestrator.GenerateMermaidDiagram(workflowID))
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, s.orchestrator.VisualizeWorkflow(workflowID))
	})

	mux.HandleFunc("/approvals/pending", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.approvals.PendingApprovals(r.URL.Query().Get("workflow_id")))
	})

	mux.HandleFunc("/approvals/approve", func(w http.ResponseWriter, r *http.Request) {
		s.decideApproval(w, r, true)
	})

	mux.HandleFunc("/approvals/reject", func(w http.ResponseWriter, r *http.Request) {
		s.decideApproval(w, r, false)
	})

	return mux
}

// handler wraps routes() with the standard middleware stack (outermost to
// innermost: tracing -> request logging -> panic recovery -> mux), matching
// the teacher's core.Framework HTTP server order. Health checks are excluded
// from tracing so they don't clutter traces with a span every few seconds.
func (s *service) handler() http.Handler {
	var h http.Handler = s.routes()
	h = telemetry.RecoveryMiddleware(s.logger)(h)
	h = telemetry.LoggingMiddleware(s.logger, s.devMode)(h)
	h = telemetry.TracingMiddleware(s.serviceName, "/healthz")(h)
	return h
}

func (s *service) decideApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ApprovalID string `json:"approval_id"`
		Approver   string `json:"approver"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	if approve {
		err = s.approvals.Approve(body.ApprovalID, body.Approver)
	} else {
		err = s.approvals.Reject(body.ApprovalID, body.Approver, body.Reason)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "decided"})
}

func pathSuffix(path, prefix string) string {
	if len(path) <= len(prefix) {
		return ""
	}
	return path[len(prefix):]
}

func main() {
	cfg, err := core.NewConfig()
	if err != nil {
		log.Fatalf("rfpcore: invalid configuration: %v", err)
	}

	svc, shutdown, err := newService(cfg)
	if err != nil {
		log.Fatalf("rfpcore: failed to initialize: %v", err)
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           svc.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		svc.logger.Info("rfpcore listening", map[string]interface{}{"addr": cfg.HTTPAddr, "service": cfg.ServiceName})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rfpcore: http server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	svc.logger.Info("rfpcore shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		svc.logger.Warn("http server shutdown error", map[string]interface{}{"error": err.Error()})
	}
	if err := shutdown(ctx); err != nil {
		svc.logger.Warn("service shutdown error", map[string]interface{}{"error": err.Error()})
	}
}
