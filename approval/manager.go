// Package approval implements the Approval Manager (C8): a human-in-the-
// loop gate that suspends a workflow stage until a human approves,
// rejects, or a timeout elapses.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/industrial-rfp/workflow-core/core"
)

// Status is the lifecycle state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// Request is a single pending (or resolved) approval.
type Request struct {
	ID            string
	WorkflowID    string
	Stage         string
	RequiredRoles []string
	ContextData   map[string]interface{}
	RequestedAt   time.Time

	Status       Status
	ApprovedBy   string
	DecidedAt    time.Time
	RejectReason string
}

type pendingEntry struct {
	request *Request
	resultC chan bool
	once    sync.Once
}

// Manager tracks pending approvals and resolves them on approve/reject or
// timeout.
type Manager struct {
	logger core.Logger
	clock  core.Clock

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// Option configures a Manager.
type Option func(*Manager)

func WithLogger(l core.Logger) Option { return func(m *Manager) { m.logger = l } }
func WithClock(c core.Clock) Option   { return func(m *Manager) { m.clock = c } }

// NewManager builds an approval Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:  core.NoOpLogger{},
		clock:   core.SystemClock{},
		pending: make(map[string]*pendingEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ApprovalID keys a request by (workflow, stage), mirroring the original's
// "approval_{workflow_id}_{stage_name}" convention so callers can
// reconstruct an approval's ID (e.g. to look up its outcome) without a
// lookup table.
func ApprovalID(workflowID, stage string) string {
	return fmt.Sprintf("approval_%s_%s", workflowID, stage)
}

// RequestApproval creates a pending approval and suspends until it is
// decided or timeout elapses. Returns true only on an explicit approve;
// rejection, timeout and context cancellation all return false.
func (m *Manager) RequestApproval(ctx context.Context, workflowID, stage string, requiredRoles []string, contextData map[string]interface{}, timeout time.Duration) (bool, error) {
	id := ApprovalID(workflowID, stage)

	req := &Request{
		ID:            id,
		WorkflowID:    workflowID,
		Stage:         stage,
		RequiredRoles: requiredRoles,
		ContextData:   contextData,
		RequestedAt:   m.clock.Now(),
		Status:        StatusPending,
	}
	entry := &pendingEntry{request: req, resultC: make(chan bool, 1)}

	m.mu.Lock()
	m.pending[id] = entry
	m.mu.Unlock()

	m.logger.Info("approval requested", map[string]interface{}{
		"approval_id": id, "workflow_id": workflowID, "stage": stage, "roles": requiredRoles,
	})

	var timer *time.Timer
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case approved := <-entry.resultC:
		return approved, nil
	case <-timeoutC:
		m.mu.Lock()
		if e, ok := m.pending[id]; ok && e == entry {
			e.request.Status = StatusTimeout
			e.request.DecidedAt = m.clock.Now()
		}
		m.mu.Unlock()
		m.logger.Warn("approval timeout", map[string]interface{}{"approval_id": id})
		return false, core.NewOpError("approval.RequestApproval", "timeout", id, core.ErrApprovalTimeout)
	case <-ctx.Done():
		m.mu.Lock()
		if e, ok := m.pending[id]; ok && e == entry {
			e.request.Status = StatusTimeout
			e.request.DecidedAt = m.clock.Now()
		}
		m.mu.Unlock()
		return false, ctx.Err()
	}
}

// Approve resolves a pending approval in favor. Decisions on an already-
// decided (including timed-out) approval are ignored.
func (m *Manager) Approve(approvalID, approver string) error {
	return m.decide(approvalID, approver, true, "")
}

// Reject resolves a pending approval against, recording reason.
func (m *Manager) Reject(approvalID, approver, reason string) error {
	return m.decide(approvalID, approver, false, reason)
}

func (m *Manager) decide(id, approver string, approved bool, reason string) error {
	m.mu.Lock()
	entry, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return core.NewOpError("approval.decide", "not_found", id, core.ErrApprovalNotFound)
	}
	if entry.request.Status != StatusPending {
		m.mu.Unlock()
		return core.NewOpError("approval.decide", "already_decided", id, core.ErrApprovalDecided)
	}

	if approved {
		entry.request.Status = StatusApproved
	} else {
		entry.request.Status = StatusRejected
		entry.request.RejectReason = reason
	}
	entry.request.ApprovedBy = approver
	entry.request.DecidedAt = m.clock.Now()
	m.mu.Unlock()

	entry.once.Do(func() { entry.resultC <- approved })

	if approved {
		m.logger.Info("approval granted", map[string]interface{}{"approval_id": id, "approver": approver})
	} else {
		m.logger.Warn("approval rejected", map[string]interface{}{"approval_id": id, "approver": approver, "reason": reason})
	}
	return nil
}

// PendingApprovals lists requests still in StatusPending, optionally
// filtered to a single workflow.
func (m *Manager) PendingApprovals(workflowID string) []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Request
	for _, entry := range m.pending {
		if entry.request.Status != StatusPending {
			continue
		}
		if workflowID != "" && entry.request.WorkflowID != workflowID {
			continue
		}
		copyReq := *entry.request
		out = append(out, &copyReq)
	}
	return out
}

// Get returns a snapshot of a single approval request by ID.
func (m *Manager) Get(approvalID string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pending[approvalID]
	if !ok {
		return nil, false
	}
	copyReq := *entry.request
	return &copyReq, true
}
