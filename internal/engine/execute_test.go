package engine

import (
	"context"
	"testing"

	"github.com/xliquidity/rebalance-engine/internal/auth"
	"github.com/xliquidity/rebalance-engine/internal/model"
)

func TestApprove(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 5500, 3000)

	d, err := h.eng.Approvals.Approve(context.Background(), approver, decisionKey(0))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if d.HumanApprover == nil || *d.HumanApprover != "carol" {
		t.Errorf("expected approver carol, got %v", d.HumanApprover)
	}
	if d.ApprovalTimestamp == nil || !d.ApprovalTimestamp.Equal(h.clock.Now()) {
		t.Errorf("expected approval timestamp from clock, got %v", d.ApprovalTimestamp)
	}
	if d.ExecutionStatus != model.ExecutionPending {
		t.Errorf("approval must not execute, got %s", d.ExecutionStatus)
	}
}

func TestApprove_LowAndMediumNotRequired(t *testing.T) {
	for _, scores := range [][2]uint16{{8500, 3000}, {7000, 3000}} {
		h := newHarness(t)
		h.createPosition(t)
		h.createDecision(t, 0, scores[0], scores[1])

		_, err := h.eng.Approvals.Approve(context.Background(), approver, decisionKey(0))
		expectErr(t, err, ErrApprovalNotRequired)
		if h.decision(t, 0).Approved() {
			t.Error("rejected approval must not record an approver")
		}
	}
}

func TestApprove_SecondApprovalRejected(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 4000, 9000)
	ctx := context.Background()

	if _, err := h.eng.Approvals.Approve(ctx, approver, decisionKey(0)); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	other := auth.Principal{ID: "dave", Roles: []auth.Role{auth.RoleApprover}}
	_, err := h.eng.Approvals.Approve(ctx, other, decisionKey(0))
	expectErr(t, err, ErrAlreadyApproved)

	if d := h.decision(t, 0); *d.HumanApprover != "carol" {
		t.Errorf("first approver overwritten by %s", *d.HumanApprover)
	}
}

func TestApprove_Rejections(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 4000, 9000)
	ctx := context.Background()

	_, err := h.eng.Approvals.Approve(ctx, auth.Principal{}, decisionKey(0))
	expectErr(t, err, ErrUnauthenticated)

	_, err = h.eng.Approvals.Approve(ctx, payer, decisionKey(0))
	expectErr(t, err, ErrUnauthorized)

	_, err = h.eng.Approvals.Approve(ctx, approver, decisionKey(5))
	expectErr(t, err, ErrDecisionNotFound)
}

func TestApprove_ExecutedDecision(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 4000, 9000)
	ctx := context.Background()

	if _, err := h.eng.Approvals.Approve(ctx, approver, decisionKey(0)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, _, err := h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(0), 50); err != nil {
		t.Fatalf("execute: %v", err)
	}
	_, err := h.eng.Approvals.Approve(ctx, approver, decisionKey(0))
	expectErr(t, err, ErrInvalidExecutionStatus)
}

func TestApprove_OwnerPolicy(t *testing.T) {
	ownerApprover := auth.Principal{ID: "alice", Roles: []auth.Role{auth.RoleApprover}}

	t.Run("owner may approve by default", func(t *testing.T) {
		h := newHarness(t)
		h.createPosition(t)
		h.createDecision(t, 0, 4000, 9000)
		if _, err := h.eng.Approvals.Approve(context.Background(), ownerApprover, decisionKey(0)); err != nil {
			t.Fatalf("approve: %v", err)
		}
	})

	t.Run("distinct approver enforced", func(t *testing.T) {
		h := newHarness(t, func(p *ProtocolParams) { p.ApproverMayBeOwner = false })
		h.createPosition(t)
		h.createDecision(t, 0, 4000, 9000)
		_, err := h.eng.Approvals.Approve(context.Background(), ownerApprover, decisionKey(0))
		expectErr(t, err, ErrUnauthorized)
		if _, err := h.eng.Approvals.Approve(context.Background(), approver, decisionKey(0)); err != nil {
			t.Fatalf("distinct approver: %v", err)
		}
	})
}

func TestExecute_LowAndMediumWithoutApproval(t *testing.T) {
	for _, scores := range [][2]uint16{{8500, 3000}, {7000, 3000}} {
		h := newHarness(t)
		h.createPosition(t)
		h.createDecision(t, 0, scores[0], scores[1])
		if _, _, err := h.eng.Executor.Execute(context.Background(), stranger, posKey, decisionKey(0), 0); err != nil {
			t.Fatalf("execute without approval: %v", err)
		}
	}
}

func TestExecute_HighAndCriticalRequireApproval(t *testing.T) {
	for _, scores := range [][2]uint16{{5500, 3000}, {4000, 9000}} {
		h := newHarness(t)
		h.createPosition(t)
		h.createDecision(t, 0, scores[0], scores[1])
		before := h.position(t)

		_, _, err := h.eng.Executor.Execute(context.Background(), payer, posKey, decisionKey(0), 50)
		expectErr(t, err, ErrApprovalRequired)

		after := h.position(t)
		if after.RebalanceCount != before.RebalanceCount || after.TickLower != before.TickLower {
			t.Errorf("rejected execute mutated position: %+v", after)
		}
		if h.decision(t, 0).ExecutionStatus != model.ExecutionPending {
			t.Error("rejected execute mutated decision")
		}
	}
}

func TestExecute_Twice(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 8500, 3000)
	ctx := context.Background()

	if _, _, err := h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(0), 50); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	_, _, err := h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(0), 50)
	expectErr(t, err, ErrInvalidExecutionStatus)

	if p := h.position(t); p.RebalanceCount != 1 {
		t.Errorf("expected rebalance_count 1 after repeated execute, got %d", p.RebalanceCount)
	}
}

func TestExecute_SlippageCeiling(t *testing.T) {
	h := newHarness(t, func(p *ProtocolParams) { p.MaxSlippageBps = 300 })
	h.createPosition(t)
	h.createDecision(t, 0, 8500, 3000)
	ctx := context.Background()

	_, _, err := h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(0), 301)
	expectErr(t, err, ErrSlippageTooHigh)
	if d := h.decision(t, 0); d.ExecutionStatus != model.ExecutionPending || d.SlippageBps != nil {
		t.Errorf("rejected execute mutated decision: %+v", d)
	}
	if p := h.position(t); p.RebalanceCount != 0 || p.TickLower != -1000 {
		t.Errorf("rejected execute mutated position: %+v", p)
	}

	if _, _, err := h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(0), 300); err != nil {
		t.Fatalf("slippage at ceiling should pass: %v", err)
	}
}

func TestExecute_Rejections(t *testing.T) {
	h := newHarness(t)
	h.createPosition(t)
	h.createDecision(t, 0, 8500, 3000)
	ctx := context.Background()

	_, _, err := h.eng.Executor.Execute(ctx, auth.Principal{}, posKey, decisionKey(0), 50)
	expectErr(t, err, ErrUnauthenticated)

	_, _, err = h.eng.Executor.Execute(ctx, payer, posKey, decisionKey(9), 50)
	expectErr(t, err, ErrDecisionNotFound)

	other := model.PositionKey{Owner: "alice", Index: 1}
	_, _, err = h.eng.Executor.Execute(ctx, payer, other, decisionKey(0), 50)
	expectErr(t, err, ErrDecisionPositionMismatch)
}
