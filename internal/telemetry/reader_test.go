package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestHistoryParamsValidate(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		params  HistoryParams
		wantErr bool
	}{
		{"one day", HistoryParams{From: from, To: from.Add(24 * time.Hour)}, false},
		{"same instant", HistoryParams{From: from, To: from}, false},
		{"missing from", HistoryParams{To: from}, true},
		{"missing to", HistoryParams{From: from}, true},
		{"reversed", HistoryParams{From: from, To: from.Add(-time.Hour)}, true},
		{"too wide", HistoryParams{From: from, To: from.Add(maxHistoryRange + time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestHistoryQuery(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := HistoryParams{From: from, To: from.Add(time.Hour)}

	query, args := historyQuery(p)
	if len(args) != 2 {
		t.Fatalf("got %d args, want 2", len(args))
	}
	if strings.Contains(query, "@outcome") {
		t.Errorf("unfiltered query mentions outcome: %s", query)
	}

	outcome, severity := "ESCALATE", "HIGH"
	p.Outcome = &outcome
	p.Severity = &severity
	query, args = historyQuery(p)
	if len(args) != 4 {
		t.Fatalf("got %d args, want 4", len(args))
	}
	for _, want := range []string{"outcome = @outcome", "severity = @severity", "FROM replyguard_decisions", "GROUP BY"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}
	if strings.Contains(query, "@mixture") {
		t.Errorf("query mentions unset mixture filter: %s", query)
	}
}
