package closure

import (
	"errors"
	"testing"
	"time"

	"agenda/api/internal/agenda"
)

var now = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

func TestCloseSchedulesArchive(t *testing.T) {
	svc := NewService()
	tests := []struct {
		reason agenda.ClosureReason
		days   int
	}{
		{agenda.ClosureDeadlineExpired, 90},
		{agenda.ClosureRejectedByManager, 30},
		{agenda.ClosureHeldByManager, 180},
		{agenda.ClosureDepartmentMatter, 90},
		{agenda.ClosureCommitteeApproved, 365},
		{agenda.ClosureCommitteeRejected, 30},
	}
	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			p := agenda.Proposal{ID: "prop_1", Score: 72, Level: agenda.LevelDeptAgenda}
			closed, err := svc.Close(p, Request{Reason: tt.reason, ClosedBy: " officer_1 ", Feedback: "thanks"}, now)
			if err != nil {
				t.Fatalf("Close: %v", err)
			}
			info := closed.Closure
			if info == nil || !closed.IsClosed() {
				t.Fatal("closed proposal has no closure")
			}
			if want := now.Add(time.Duration(tt.days) * 24 * time.Hour); !info.ArchiveAt.Equal(want) {
				t.Fatalf("ArchiveAt = %v, want %v", info.ArchiveAt, want)
			}
			if info.FinalScore != 72 || info.FinalLevel != agenda.LevelDeptAgenda || info.ClosedBy != "officer_1" {
				t.Fatalf("closure snapshot = %+v", info)
			}
			if p.IsClosed() {
				t.Fatal("Close mutated its input")
			}
		})
	}
}

func TestCloseTwiceFails(t *testing.T) {
	svc := NewService()
	p := agenda.Proposal{ID: "prop_1"}
	closed, err := svc.Close(p, Request{Reason: agenda.ClosureHeldByManager}, now)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := svc.Close(closed, Request{Reason: agenda.ClosureRejectedByManager}, now.Add(time.Hour)); !errors.Is(err, agenda.ErrAlreadyClosed) {
		t.Fatalf("second Close error = %v, want ErrAlreadyClosed", err)
	}
}

func TestCloseUnknownReason(t *testing.T) {
	if _, err := NewService().Close(agenda.Proposal{ID: "prop_1"}, Request{Reason: "vanished"}, now); !errors.Is(err, agenda.ErrInvalidState) {
		t.Fatalf("Close error = %v, want ErrInvalidState", err)
	}
	if _, err := ParseReason("vanished"); !errors.Is(err, agenda.ErrInvalidState) {
		t.Fatalf("ParseReason error = %v", err)
	}
	if reason, err := ParseReason("HELD_BY_MANAGER"); err != nil || reason != agenda.ClosureHeldByManager {
		t.Fatalf("ParseReason = %q, %v", reason, err)
	}
}

func TestDueForArchive(t *testing.T) {
	svc := NewService()
	closed, _ := svc.Close(agenda.Proposal{ID: "prop_1"}, Request{Reason: agenda.ClosureRejectedByManager}, now)

	if svc.DueForArchive(closed, now.Add(29*24*time.Hour)) {
		t.Fatal("archived too early")
	}
	if !svc.DueForArchive(closed, now.Add(30*24*time.Hour)) {
		t.Fatal("expected archive at exactly 30 days")
	}
	archivedAt := now.Add(31 * 24 * time.Hour)
	closed.ArchivedAt = &archivedAt
	if svc.DueForArchive(closed, now.Add(40*24*time.Hour)) {
		t.Fatal("already archived proposal reported due")
	}
	if svc.DueForArchive(agenda.Proposal{ID: "open"}, now) {
		t.Fatal("open proposal reported due")
	}
}

func TestReasonMappings(t *testing.T) {
	if r, ok := ReasonForAction("hold"); !ok || r != agenda.ClosureHeldByManager {
		t.Fatalf("ReasonForAction(hold) = %q", r)
	}
	if _, ok := ReasonForAction("approve_levelup"); ok {
		t.Fatal("promotion must not close")
	}
	if r, err := ReasonForDecision(agenda.DecisionRejected); err != nil || r != agenda.ClosureCommitteeRejected {
		t.Fatalf("ReasonForDecision = %q, %v", r, err)
	}
	if _, err := ReasonForDecision("maybe"); !errors.Is(err, agenda.ErrInvalidState) {
		t.Fatalf("ReasonForDecision error = %v", err)
	}
}
