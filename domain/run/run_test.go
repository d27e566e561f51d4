package run_test

import (
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/asynctrain/domain/run"
)

func TestNew(t *testing.T) {
	t.Parallel()

	r := run.New("chain", 4, 1000, "out")
	if r.ID == "" {
		t.Error("ID should be generated")
	}
	if r.Status != run.StatusRunning {
		t.Errorf("Status = %s, want running", r.Status)
	}
	if r.Processes != 4 || r.Steps != 1000 || r.Outdir != "out" {
		t.Errorf("unexpected run: %+v", r)
	}

	other := run.New("chain", 4, 1000, "out")
	if other.ID == r.ID {
		t.Error("IDs should be unique")
	}
}

func TestRun_Finish(t *testing.T) {
	t.Parallel()

	r := run.New("", 1, 10, "out")
	r.Finish(run.StatusFailed, 7, 2, "out/7_except", errors.New("boom"))

	if r.Status != run.StatusFailed || r.GlobalSteps != 7 || r.Episodes != 2 {
		t.Errorf("unexpected run: %+v", r)
	}
	if r.Error != "boom" {
		t.Errorf("Error = %q, want boom", r.Error)
	}
	if r.EndTime.IsZero() {
		t.Error("EndTime should be set")
	}
	if r.Duration() < 0 {
		t.Error("Duration should not be negative")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status run.Status
		want   bool
	}{
		{run.StatusRunning, false},
		{"", false},
		{run.StatusCompleted, true},
		{run.StatusStopped, true},
		{run.StatusSucceeded, true},
		{run.StatusFailed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%q.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestListFilter_Matches(t *testing.T) {
	t.Parallel()

	r := &run.Run{Status: run.StatusCompleted, StartTime: time.Now()}

	tests := []struct {
		name   string
		filter run.ListFilter
		want   bool
	}{
		{"empty", run.ListFilter{}, true},
		{"status match", run.ListFilter{Status: []run.Status{run.StatusCompleted}}, true},
		{"status mismatch", run.ListFilter{Status: []run.Status{run.StatusFailed}}, false},
		{"started after", run.ListFilter{FromTime: time.Now().Add(time.Hour)}, false},
		{"started before", run.ListFilter{FromTime: time.Now().Add(-time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.filter.Matches(r); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
