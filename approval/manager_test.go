package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-rfp/workflow-core/core"
)

func TestApprovalIDIsDeterministicByWorkflowAndStage(t *testing.T) {
	assert.Equal(t, "approval_wf1_pricing_calculation", ApprovalID("wf1", "pricing_calculation"))
}

func TestRequestApprovalResolvesOnApprove(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, m.Approve("approval_wf1_pricing_calculation", "alice"))
	}()

	approved, err := m.RequestApproval(context.Background(), "wf1", "pricing_calculation", []string{"pricing_manager"}, nil, time.Second)
	wg.Wait()
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestRequestApprovalResolvesOnReject(t *testing.T) {
	m := NewManager()

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, m.Reject("approval_wf1_sales_analysis", "bob", "insufficient margin"))
	}()

	approved, err := m.RequestApproval(context.Background(), "wf1", "sales_analysis", []string{"sales_manager"}, nil, time.Second)
	require.NoError(t, err)
	assert.False(t, approved)

	req, ok := m.Get("approval_wf1_sales_analysis")
	require.True(t, ok)
	assert.Equal(t, StatusRejected, req.Status)
	assert.Equal(t, "insufficient margin", req.RejectReason)
}

func TestRequestApprovalTimesOutAndBlocksLateDecision(t *testing.T) {
	m := NewManager()

	approved, err := m.RequestApproval(context.Background(), "wf1", "technical_validation", []string{"technical_lead"}, nil, 10*time.Millisecond)
	assert.False(t, approved)
	require.Error(t, err)
	assert.True(t, core.IsTimeout(err))

	req, ok := m.Get("approval_wf1_technical_validation")
	require.True(t, ok)
	assert.Equal(t, StatusTimeout, req.Status)

	err = m.Approve("approval_wf1_technical_validation", "late-alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrApprovalDecided)

	req, _ = m.Get("approval_wf1_technical_validation")
	assert.Equal(t, StatusTimeout, req.Status, "late approval must not override timeout status")
}

func TestDuplicateDecisionIsIgnored(t *testing.T) {
	m := NewManager()

	go func() {
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, m.Approve("approval_wf1_pricing_calculation", "alice"))
		err := m.Approve("approval_wf1_pricing_calculation", "mallory")
		assert.ErrorIs(t, err, core.ErrApprovalDecided)
	}()

	approved, err := m.RequestApproval(context.Background(), "wf1", "pricing_calculation", nil, nil, time.Second)
	require.NoError(t, err)
	assert.True(t, approved)

	req, _ := m.Get("approval_wf1_pricing_calculation")
	assert.Equal(t, "alice", req.ApprovedBy)
}

func TestDecideUnknownApprovalReturnsNotFound(t *testing.T) {
	m := NewManager()
	err := m.Approve("approval_missing", "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrApprovalNotFound)
}

func TestPendingApprovalsFiltersByWorkflowAndExcludesResolved(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		m.RequestApproval(ctx, "wf1", "sales_analysis", nil, nil, 0)
	}()
	go func() {
		m.RequestApproval(ctx, "wf2", "sales_analysis", nil, nil, 0)
	}()
	time.Sleep(10 * time.Millisecond)

	all := m.PendingApprovals("")
	assert.Len(t, all, 2)

	wf1Only := m.PendingApprovals("wf1")
	require.Len(t, wf1Only, 1)
	assert.Equal(t, "wf1", wf1Only[0].WorkflowID)

	require.NoError(t, m.Approve("approval_wf1_sales_analysis", "alice"))
	time.Sleep(5 * time.Millisecond)
	assert.Len(t, m.PendingApprovals(""), 1)
}

func TestRequestApprovalRespectsContextCancellation(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	approved, err := m.RequestApproval(ctx, "wf1", "parsing", nil, nil, time.Minute)
	assert.False(t, approved)
	require.Error(t, err)
}
