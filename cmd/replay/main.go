// Replay tool for checking a loan book against Scoregate's NBE rules.
//
// Usage:
//
//	go run ./cmd/replay -csv /path/to/applications.csv -url http://localhost:8080
//
// Each CSV row is a loan application whose header names are form fields in
// camelCase or snake_case (loan_amount, monthly_income, loan_term_months,
// ...). Rows are posted to POST /compliance/evaluate and the verdicts are
// summarised per rule. An optional expected_compliant column turns the run
// into an agreement check against an earlier decision log.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

func main() {
	csvPath := flag.String("csv", "", "Path to applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Scoregate base URL")
	tenantID := flag.String("tenant", "replay", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum applications to replay (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/applications.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("SCOREGATE REPLAY - NBE compliance over a loan book")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("URL:         %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Scoregate not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Scoregate is running:")
		fmt.Println("  go run ./cmd/scoregate")
		os.Exit(1)
	}
	fmt.Println("Scoregate is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	apps, err := readApplications(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d applications\n", len(apps))

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	start := time.Now()
	metrics := runReplay(client, apps, *baseURL, *tenantID, *workers, *verbose)
	printResults(os.Stdout, metrics, time.Since(start))
}
