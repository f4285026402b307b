// Package comm implements the Communication Manager (C6): the only API the
// orchestrator and its agents see on top of the broker (C2), state store
// (C3), retry handler (C4), and tracer (C5).
package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/broker"
	"github.com/industrial-rfp/workflow-core/core"
	"github.com/industrial-rfp/workflow-core/message"
	"github.com/industrial-rfp/workflow-core/resilience"
	"github.com/industrial-rfp/workflow-core/statestore"
	"github.com/industrial-rfp/workflow-core/telemetry"
)

// AgentInfo is the metadata recorded for a registered agent.
type AgentInfo struct {
	ID           string
	Type         string
	Capabilities []string
	RegisteredAt time.Time
}

// TypeHandler is invoked for an inbound message of a specific type addressed
// to a specific agent, once no pending send_request future claims it.
type TypeHandler func(ctx context.Context, msg *message.Message)

// Manager is the Communication Manager (C6).
type Manager struct {
	brk   broker.Broker
	store statestore.Store

	logger  core.Logger
	clock   core.Clock
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics
	queues  *telemetry.QueueMonitor

	retryPolicy resilience.RetryPolicy
	breakerCfg  resilience.CircuitBreakerConfig

	mu       sync.Mutex
	agents   map[string]AgentInfo
	handlers map[string]map[message.Type]TypeHandler
	pending  map[string]chan *message.Message

	breakersMu sync.Mutex
	breakers   map[string]*resilience.CircuitBreaker

	connected bool
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger installs a structured logger.
func WithLogger(logger core.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the manager's clock, for deterministic tests.
func WithClock(clock core.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithTracer wires a Tracer so every send/request/response is observed.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(m *Manager) { m.tracer = tracer }
}

// WithMetrics wires a Metrics aggregate for retry/error counting outside of
// a tracer-scoped trace.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithQueueMonitor wires a QueueMonitor that observes every publish/
// delivery as an enqueue/dequeue pair on the recipient's named queue
// (spec.md §4.3's per-queue depth and staleness tracking).
func WithQueueMonitor(qm *telemetry.QueueMonitor) Option {
	return func(m *Manager) { m.queues = qm }
}

// WithRetryPolicy overrides the policy send_message/send_request wrap
// broker.Publish with (spec.md §4.5: "Uses retry handler around publish").
func WithRetryPolicy(policy resilience.RetryPolicy) Option {
	return func(m *Manager) { m.retryPolicy = policy }
}

// WithCircuitBreakerConfig overrides the thresholds every per-recipient
// circuit breaker is built with (Name/Clock/Logger are always overwritten
// per recipient in breakerFor, so only the threshold fields matter here).
func WithCircuitBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(m *Manager) { m.breakerCfg = cfg }
}

// NewManager builds a Communication Manager over brk and store.
func NewManager(brk broker.Broker, store statestore.Store, opts ...Option) *Manager {
	m := &Manager{
		brk:         brk,
		store:       store,
		logger:      core.NoOpLogger{},
		clock:       core.SystemClock{},
		retryPolicy: resilience.DefaultRetryPolicy(),
		breakerCfg:  resilience.DefaultCircuitBreakerConfig(""),
		agents:      make(map[string]AgentInfo),
		handlers:    make(map[string]map[message.Type]TypeHandler),
		pending:     make(map[string]chan *message.Message),
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect marks the manager ready to serve traffic. The broker and store
// are already live by construction (both are plain Go values, not lazily
// dialed connections); Connect exists so callers have one symmetric
// lifecycle hook to call regardless of which backend is wired underneath.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.logger.Info("communication manager connected", nil)
	return nil
}

// Disconnect closes the underlying broker and state store.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	var firstErr error
	if err := m.brk.Close(); err != nil {
		firstErr = err
	}
	if err := m.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	m.logger.Info("communication manager disconnected", nil)
	return firstErr
}

// breakerFor returns (creating if necessary) the per-recipient circuit
// breaker guarding send_message/send_request against a consistently failing
// downstream.
func (m *Manager) breakerFor(recipient string) *resilience.CircuitBreaker {
	m.breakersMu.Lock()
	defer m.breakersMu.Unlock()
	cb, ok := m.breakers[recipient]
	if !ok {
		cfg := m.breakerCfg
		cfg.Name = recipient
		cfg.Clock = m.clock
		cfg.Logger = m.logger
		cb = resilience.NewCircuitBreaker(cfg)
		m.breakers[recipient] = cb
	}
	return cb
}

// RegisterAgent subscribes id's inbound queue and records its metadata in
// the state store.
func (m *Manager) RegisterAgent(ctx context.Context, id, agentType string, capabilities []string) error {
	m.mu.Lock()
	if _, exists := m.agents[id]; exists {
		m.mu.Unlock()
		return core.NewOpError("comm.register_agent", "programmer", id, core.ErrAlreadyRegistered)
	}
	info := AgentInfo{ID: id, Type: agentType, Capabilities: capabilities, RegisteredAt: m.clock.Now()}
	m.agents[id] = info
	m.mu.Unlock()

	m.brk.Subscribe(id, func(msg *message.Message) { m.route(ctx, msg) })

	if err := m.store.Set(ctx, agentStateKey(id, "_meta"), info, statestore.CategoryAgent, 0); err != nil {
		return core.NewOpError("comm.register_agent", "state", id, err)
	}
	m.logger.Info("agent registered", map[string]interface{}{"agent_id": id, "type": agentType})
	return nil
}

// UnregisterAgent removes id's subscription and state.
func (m *Manager) UnregisterAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.agents, id)
	delete(m.handlers, id)
	m.mu.Unlock()

	m.brk.Unsubscribe(id)
	if err := m.store.Delete(ctx, agentStateKey(id, "_meta")); err != nil {
		return core.NewOpError("comm.unregister_agent", "state", id, err)
	}
	m.logger.Info("agent unregistered", map[string]interface{}{"agent_id": id})
	return nil
}

// RegisterHandler installs handler for msgType messages addressed to
// agentID. Registering the same type twice replaces the previous handler.
func (m *Manager) RegisterHandler(agentID string, msgType message.Type, handler TypeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[agentID] == nil {
		m.handlers[agentID] = make(map[message.Type]TypeHandler)
	}
	m.handlers[agentID][msgType] = handler
}

// route implements "internal delivery routing" from spec.md §4.5: a
// response whose correlation ID names a pending future fulfills it; other-
// wise the recipient's per-type handler is invoked; absent either, the
// message is logged and dropped.
func (m *Manager) route(ctx context.Context, msg *message.Message) {
	if m.queues != nil {
		m.queues.RecordDequeue(msg.Recipient)
	}
	if msg.Type == message.TypeResponse && msg.CorrelationID != "" {
		m.mu.Lock()
		ch, ok := m.pending[msg.CorrelationID]
		m.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
			if m.tracer != nil {
				m.tracer.RecordHop(msg.ID, "matched pending request "+msg.CorrelationID)
			}
			return
		}
	}

	m.mu.Lock()
	handler, ok := m.handlers[msg.Recipient][msg.Type]
	m.mu.Unlock()
	if !ok {
		m.logger.Warn("no handler for inbound message, dropping", map[string]interface{}{
			"recipient": msg.Recipient, "type": string(msg.Type), "message_id": msg.ID,
		})
		return
	}
	handler(ctx, msg)
}

// SendMessage is fire-and-forget delivery, wrapped in C4's retry handler
// around the broker publish.
func (m *Manager) SendMessage(ctx context.Context, msg *message.Message) error {
	cb := m.breakerFor(msg.Recipient)
	op := fmt.Sprintf("comm.send_message[%s]", msg.Recipient)
	if m.queues != nil {
		m.queues.RecordEnqueue(msg.Recipient)
	}
	err := resilience.Retry(ctx, m.retryPolicy, cb, op, func(ctx context.Context) error {
		if !m.brk.Publish(ctx, msg) {
			return core.NewOpError(op, "delivery", msg.ID, core.ErrPublishFailed)
		}
		return nil
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordRetry()
		}
		return err
	}
	if m.tracer != nil {
		m.tracer.RecordHop(msg.ID, "published to "+msg.Recipient)
	}
	return nil
}

// SendRequest generates a fresh correlation ID, installs a pending future,
// sends a request to recipient, and waits up to timeout for a response
// bearing that correlation ID. On timeout the pending future is removed and
// (nil, false) is returned.
func (m *Manager) SendRequest(ctx context.Context, sender, recipient string, payload map[string]interface{}, timeout time.Duration) (*message.Message, bool) {
	corrID := core.NewID("corr")
	ch := make(chan *message.Message, 1)

	m.mu.Lock()
	m.pending[corrID] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, corrID)
		m.mu.Unlock()
	}()

	req := &message.Message{
		ID:            core.NewID("msg"),
		Sender:        sender,
		Recipient:     recipient,
		Type:          message.TypeRequest,
		Payload:       payload,
		Priority:      message.PriorityNormal,
		CorrelationID: corrID,
		ReplyTo:       sender,
		CreatedAt:     m.clock.Now(),
	}
	if m.tracer != nil {
		m.tracer.StartTrace(req.ID, sender, recipient, string(message.TypeRequest), corrID)
	}

	if err := m.SendMessage(ctx, req); err != nil {
		if m.tracer != nil {
			m.tracer.MarkFailed(req.ID, err)
		}
		m.logger.Error("send_request publish failed", map[string]interface{}{"error": err.Error(), "recipient": recipient})
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if m.tracer != nil {
			m.tracer.MarkAcknowledged(req.ID)
		}
		return resp, true
	case <-timer.C:
		if m.tracer != nil {
			m.tracer.MarkFailed(req.ID, core.NewOpError("comm.send_request", "timeout", req.ID, core.ErrRequestTimeout))
		}
		if m.metrics != nil {
			m.metrics.RecordError(true)
		}
		return nil, false
	case <-ctx.Done():
		if m.tracer != nil {
			m.tracer.MarkFailed(req.ID, core.NewOpError("comm.send_request", "timeout", req.ID, ctx.Err()))
		}
		return nil, false
	}
}

// SendResponse sends a response addressed to requestMsg's reply-to, tagged
// with its correlation ID. If either is missing, the response is logged and
// dropped (spec.md §4.5).
func (m *Manager) SendResponse(ctx context.Context, requestMsg *message.Message, sender string, payload map[string]interface{}) error {
	if requestMsg.ReplyTo == "" || requestMsg.CorrelationID == "" {
		m.logger.Warn("cannot send response: request missing reply_to or correlation_id", map[string]interface{}{
			"message_id": requestMsg.ID,
		})
		return nil
	}
	resp := &message.Message{
		ID:            core.NewID("msg"),
		Sender:        sender,
		Recipient:     requestMsg.ReplyTo,
		Type:          message.TypeResponse,
		Payload:       payload,
		Priority:      requestMsg.Priority,
		CorrelationID: requestMsg.CorrelationID,
		CreatedAt:     m.clock.Now(),
	}
	return m.SendMessage(ctx, resp)
}

// Broadcast enumerates registered agents and sends a notification to each
// one other than sender, optionally filtered to a single agent type.
func (m *Manager) Broadcast(ctx context.Context, sender string, payload map[string]interface{}, agentType string) {
	m.mu.Lock()
	recipients := make([]string, 0, len(m.agents))
	for id, info := range m.agents {
		if id == sender {
			continue
		}
		if agentType != "" && info.Type != agentType {
			continue
		}
		recipients = append(recipients, id)
	}
	m.mu.Unlock()

	for _, id := range recipients {
		msg := &message.Message{
			ID:        core.NewID("msg"),
			Sender:    sender,
			Recipient: id,
			Type:      message.TypeNotification,
			Payload:   payload,
			Priority:  message.PriorityNormal,
			CreatedAt: m.clock.Now(),
		}
		if err := m.SendMessage(ctx, msg); err != nil {
			m.logger.Warn("broadcast delivery failed", map[string]interface{}{"recipient": id, "error": err.Error()})
		}
	}
}

// SetAgentState stores value under key, namespaced to agentID.
func (m *Manager) SetAgentState(ctx context.Context, agentID, key string, value interface{}) error {
	return m.store.Set(ctx, agentStateKey(agentID, key), value, statestore.CategoryAgent, 0)
}

// GetAgentState retrieves the value previously stored via SetAgentState.
func (m *Manager) GetAgentState(ctx context.Context, agentID, key string) (interface{}, bool) {
	entry, ok := m.store.Get(ctx, agentStateKey(agentID, key))
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Agents returns a snapshot of every currently registered agent.
func (m *Manager) Agents() []AgentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AgentInfo, 0, len(m.agents))
	for _, info := range m.agents {
		out = append(out, info)
	}
	return out
}

func agentStateKey(agentID, key string) string {
	return fmt.Sprintf("agent:%s:%s", agentID, key)
}
