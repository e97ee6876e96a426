package domain

import (
	"testing"
	"time"
)

func TestCanTransition_LegalEdges(t *testing.T) {
	legal := [][2]PositionStatus{
		{StatusPendingDeposit, StatusBridgingToNear},
		{StatusPendingDeposit, StatusCancelled},
		{StatusBridgingToNear, StatusLendingActive},
		{StatusBridgingToNear, StatusFailed},
		{StatusLendingActive, StatusBridgingToZcash},
		{StatusBridgingToZcash, StatusCompleted},
	}
	for _, edge := range legal {
		if !CanTransition(edge[0], edge[1]) {
			t.Errorf("%s -> %s should be legal", edge[0], edge[1])
		}
	}
}

func TestCanTransition_NoBackwardsPath(t *testing.T) {
	// No status may reach an earlier non-terminal one.
	if CanTransition(StatusBridgingToNear, StatusPendingDeposit) {
		t.Error("bridging_to_near must not return to pending_deposit")
	}
	if CanTransition(StatusLendingActive, StatusBridgingToNear) {
		t.Error("lending_active must not return to bridging_to_near")
	}
	if CanTransition(StatusBridgingToZcash, StatusLendingActive) {
		t.Error("bridging_to_zcash must not return to lending_active")
	}
}

func TestCanTransition_TerminalStatesHaveNoExit(t *testing.T) {
	all := []PositionStatus{
		StatusPendingDeposit, StatusBridgingToNear, StatusLendingActive,
		StatusBridgingToZcash, StatusCompleted, StatusFailed, StatusCancelled,
	}
	for _, terminal := range []PositionStatus{StatusCompleted, StatusFailed, StatusCancelled} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, to := range all {
			if CanTransition(terminal, to) {
				t.Errorf("terminal %s must not transition to %s", terminal, to)
			}
		}
	}
}

func TestTransition_AppendsHistory(t *testing.T) {
	p := Position{Status: StatusPendingDeposit}
	if err := p.Transition(StatusBridgingToNear, "deposit detected", "txid-1"); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	if p.Status != StatusBridgingToNear {
		t.Errorf("status = %s, want %s", p.Status, StatusBridgingToNear)
	}
	if len(p.StatusHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(p.StatusHistory))
	}
	entry := p.StatusHistory[0]
	if entry.Status != StatusBridgingToNear || entry.Note != "deposit detected" || entry.TxRef != "txid-1" {
		t.Errorf("unexpected history entry: %+v", entry)
	}
}

func TestTransition_IllegalMoveRejectedWithoutMutation(t *testing.T) {
	p := Position{Status: StatusLendingActive}
	p.AppendHistory(StatusLendingActive, "", "")

	err := p.Transition(StatusLendingActive, "", "")
	if err != ErrInvalidTransition {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if p.Status != StatusLendingActive {
		t.Errorf("status mutated on rejected transition")
	}
	if len(p.StatusHistory) != 1 {
		t.Errorf("history mutated on rejected transition")
	}
}

func TestAppendHistory_MonotonicTimestamps(t *testing.T) {
	p := Position{Status: StatusPendingDeposit}
	// Seed an entry in the future; the next entry must not go backwards.
	p.StatusHistory = append(p.StatusHistory, StatusChange{
		Status:    StatusPendingDeposit,
		Timestamp: time.Now().UTC().Add(time.Hour),
	})
	p.AppendHistory(StatusBridgingToNear, "", "")

	for i := 1; i < len(p.StatusHistory); i++ {
		if p.StatusHistory[i].Timestamp.Before(p.StatusHistory[i-1].Timestamp) {
			t.Fatalf("history timestamps not monotonic at index %d", i)
		}
	}
}
