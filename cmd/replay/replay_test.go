package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/scoregate/internal/domain"
)

const sampleCSV = `customer_id,loan_amount,loan_term_months,monthly_income,expected_compliant
c-1,60000,12,30000,true
c-2,600000,12,30000,true
c-3,,12,30000,
c-4,"1,200",6,9000,false
`

func TestReadApplications(t *testing.T) {
	apps, err := readApplications(strings.NewReader(sampleCSV), 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(apps) != 4 {
		t.Fatalf("expected 4 applications, got %d", len(apps))
	}

	tests := []struct {
		idx      int
		amount   string
		expected *bool
	}{
		{0, "60000", ptr(true)},
		{2, "", nil},
		{3, "1,200", ptr(false)},
	}
	for _, tt := range tests {
		app := apps[tt.idx]
		if got := app.Fields["loan_amount"]; got != tt.amount {
			t.Errorf("row %d: expected amount %q, got %q", app.Row, tt.amount, got)
		}
		if _, ok := app.Fields[expectedColumn]; ok {
			t.Errorf("row %d: expected label column to be stripped", app.Row)
		}
		if (tt.expected == nil) != (app.Expected == nil) || (tt.expected != nil && *tt.expected != *app.Expected) {
			t.Errorf("row %d: expected label %v, got %v", app.Row, tt.expected, app.Expected)
		}
	}

	limited, _ := readApplications(strings.NewReader(sampleCSV), 2)
	if len(limited) != 2 {
		t.Errorf("expected limit of 2, got %d", len(limited))
	}
}

func TestRunReplay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Tenant-ID") != "replay" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var fields map[string]string
		json.NewDecoder(r.Body).Decode(&fields)

		res := domain.ComplianceResult{Compliant: true}
		if fields["loan_amount"] == "600000" {
			res = domain.ComplianceResult{Violations: []domain.Violation{{Rule: "one_third_salary_rule"}}}
		}
		if fields["loan_amount"] == "" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(res)
	}))
	defer srv.Close()

	apps, _ := readApplications(strings.NewReader(sampleCSV), 0)
	m := runReplay(&http.Client{Timeout: time.Second}, apps, srv.URL, "replay", 2, false)

	if m.TotalProcessed != 4 {
		t.Errorf("expected 4 processed, got %d", m.TotalProcessed)
	}
	if m.Errors != 1 {
		t.Errorf("expected 1 error, got %d", m.Errors)
	}
	if m.Compliant != 2 || m.NonCompliant != 1 {
		t.Errorf("expected 2 compliant and 1 non-compliant, got %d and %d", m.Compliant, m.NonCompliant)
	}
	if m.ViolationsByRule["one_third_salary_rule"] != 1 {
		t.Errorf("expected one salary violation, got %v", m.ViolationsByRule)
	}
	// c-1 agrees, c-2 and c-4 disagree.
	if m.Agreed != 1 || m.Disagreed != 2 {
		t.Errorf("expected 1 agreed and 2 disagreed, got %d and %d", m.Agreed, m.Disagreed)
	}
	if m.BlockedAmount != 600000 {
		t.Errorf("expected 600000 blocked, got %v", m.BlockedAmount)
	}

	var out bytes.Buffer
	printResults(&out, m, time.Second)
	for _, want := range []string{"600,000", "one_third_salary_rule", "AGREEMENT"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected summary to contain %q, got:\n%s", want, out.String())
		}
	}
}

func ptr[T any](v T) *T { return &v }
