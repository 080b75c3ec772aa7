package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opensource-finance/scoregate/internal/domain"
)

const expectedColumn = "expected_compliant"

// application is one CSV row.
type application struct {
	Row    int
	Fields map[string]string

	// Expected is the recorded verdict, nil when the column is absent or
	// empty.
	Expected *bool
}

// Metrics tracks replay results.
type Metrics struct {
	mu sync.Mutex

	TotalProcessed int64
	Compliant      int64
	NonCompliant   int64
	Errors         int64

	// Agreement with the expected_compliant column.
	Agreed    int64
	Disagreed int64

	RequestedAmount float64
	BlockedAmount   float64

	ViolationsByRule map[string]int64

	ProcessingTimeMs int64
}

func (m *Metrics) record(app application, res *domain.ComplianceResult, verbose bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	amount, _ := strconv.ParseFloat(strings.ReplaceAll(firstField(app.Fields, "loan_amount", "loanAmount"), ",", ""), 64)
	m.RequestedAmount += amount
	if res.Compliant {
		m.Compliant++
	} else {
		m.NonCompliant++
		m.BlockedAmount += amount
	}
	for _, v := range res.Violations {
		m.ViolationsByRule[v.Rule]++
	}

	if app.Expected != nil {
		if *app.Expected == res.Compliant {
			m.Agreed++
		} else {
			m.Disagreed++
		}
	}

	if verbose {
		rules := make([]string, len(res.Violations))
		for i, v := range res.Violations {
			rules[i] = v.Rule
		}
		fmt.Printf("row %-6d | amount %14s | compliant %-5v | %s\n",
			app.Row, humanize.Commaf(amount), res.Compliant, strings.Join(rules, ","))
	}
}

func firstField(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := fields[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readApplications reads up to limit rows. Empty cells are left out so the
// server applies its own defaults.
func readApplications(r io.Reader, limit int) ([]application, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var apps []application
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			continue // Skip malformed rows
		}

		app := application{Row: row, Fields: make(map[string]string, len(header))}
		for i, col := range header {
			if i >= len(record) || record[i] == "" {
				continue
			}
			if col == expectedColumn {
				if b, err := strconv.ParseBool(record[i]); err == nil {
					app.Expected = &b
				}
				continue
			}
			app.Fields[col] = record[i]
		}
		apps = append(apps, app)

		if limit > 0 && len(apps) >= limit {
			break
		}
	}
	return apps, nil
}

func runReplay(client *http.Client, apps []application, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{ViolationsByRule: make(map[string]int64)}
	if numWorkers < 1 {
		numWorkers = 1
	}

	work := make(chan application, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for app := range work {
				start := time.Now()
				res, err := evaluate(client, baseURL, tenantID, app)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: row %d -> %v\n", app.Row, err)
					}
					continue
				}
				metrics.record(app, res, verbose)
			}
		}()
	}

	for _, app := range apps {
		work <- app
	}
	close(work)
	wg.Wait()

	return metrics
}

func evaluate(client *http.Client, baseURL, tenantID string, app application) (*domain.ComplianceResult, error) {
	body, err := json.Marshal(app.Fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, baseURL+"/compliance/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.ComplianceResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(w io.Writer, m *Metrics, duration time.Duration) {
	fmt.Fprintln(w, "\nREPLAY RESULTS")

	fmt.Fprintf(w, "\nVERDICTS\n")
	fmt.Fprintf(w, "   Total Processed:  %s\n", humanize.Comma(m.TotalProcessed))
	fmt.Fprintf(w, "   Compliant:        %s\n", humanize.Comma(m.Compliant))
	fmt.Fprintf(w, "   Non-compliant:    %s\n", humanize.Comma(m.NonCompliant))
	fmt.Fprintf(w, "   Errors:           %s\n", humanize.Comma(m.Errors))

	fmt.Fprintf(w, "\nAMOUNTS (ETB)\n")
	fmt.Fprintf(w, "   Requested:        %s\n", humanize.CommafWithDigits(m.RequestedAmount, 2))
	fmt.Fprintf(w, "   Blocked:          %s\n", humanize.CommafWithDigits(m.BlockedAmount, 2))

	if len(m.ViolationsByRule) > 0 {
		fmt.Fprintf(w, "\nVIOLATIONS BY RULE\n")
		rules := make([]string, 0, len(m.ViolationsByRule))
		for r := range m.ViolationsByRule {
			rules = append(rules, r)
		}
		sort.Slice(rules, func(i, j int) bool {
			if m.ViolationsByRule[rules[i]] != m.ViolationsByRule[rules[j]] {
				return m.ViolationsByRule[rules[i]] > m.ViolationsByRule[rules[j]]
			}
			return rules[i] < rules[j]
		})
		for _, r := range rules {
			fmt.Fprintf(w, "   %-28s %s\n", r, humanize.Comma(m.ViolationsByRule[r]))
		}
	}

	if checked := m.Agreed + m.Disagreed; checked > 0 {
		fmt.Fprintf(w, "\nAGREEMENT WITH %s\n", expectedColumn)
		fmt.Fprintf(w, "   Agreed:           %s / %s (%.2f%%)\n",
			humanize.Comma(m.Agreed), humanize.Comma(checked), 100*float64(m.Agreed)/float64(checked))
		fmt.Fprintf(w, "   Disagreed:        %s\n", humanize.Comma(m.Disagreed))
	}

	fmt.Fprintf(w, "\nPERFORMANCE\n")
	fmt.Fprintf(w, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 && duration > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rate := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Fprintf(w, "   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Fprintf(w, "   Throughput:       %s apps/sec\n", humanize.FormatFloat("#,###.##", rate))
	}
	fmt.Fprintln(w)
}
