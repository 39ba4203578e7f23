// Command reference is a minimal framework adapter used for wiring
// checks and demos. It speaks the adapter protocol: a JSON request on
// stdin, a JSON response on stdout, exit 75 for retryable failures and
// 65 for bad input.
//
// Answers come from a JSON file mapping input substrings to canned
// responses, so runs against it are fully deterministic.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

type request struct {
	Input string `json:"input"`
}

type usageEvent struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	InputUnits  int64     `json:"input_units"`
	OutputUnits int64     `json:"output_units"`
	Timestamp   time.Time `json:"timestamp"`
}

type answer struct {
	Match       string       `json:"match"`
	Output      string       `json:"output"`
	Docs        []string     `json:"docs,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
	UsageEvents []usageEvent `json:"usage_events,omitempty"`
}

type response struct {
	Status      string       `json:"status"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Error       string       `json:"error,omitempty"`
	Output      string       `json:"output,omitempty"`
	Docs        []string     `json:"docs,omitempty"`
	Sources     []string     `json:"sources,omitempty"`
	UsageEvents []usageEvent `json:"usage_events,omitempty"`
}

func main() {
	answersPath := flag.String("answers", "answers.json", "path to canned answers file")
	flag.Parse()

	// REFERENCE_FLAKY=N makes the first N invocations fail transiently,
	// which exercises retry handling end to end. Invocations are counted
	// in a sidecar file so the count survives process restarts.
	if n, _ := strconv.Atoi(os.Getenv("REFERENCE_FLAKY")); n > 0 {
		if countInvocation(*answersPath+".count") <= n {
			fmt.Fprintln(os.Stderr, "simulated transient failure")
			os.Exit(75)
		}
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading request: %v\n", err)
		os.Exit(65)
	}
	var req request
	if err := json.Unmarshal(data, &req); err != nil || req.Input == "" {
		fmt.Fprintln(os.Stderr, "malformed request")
		os.Exit(65)
	}

	answers, err := loadAnswers(*answersPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	resp := respond(req.Input, answers)
	json.NewEncoder(os.Stdout).Encode(resp)
}

func loadAnswers(path string) ([]answer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading answers: %w", err)
	}
	var answers []answer
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("parsing answers: %w", err)
	}
	return answers, nil
}

func respond(input string, answers []answer) response {
	for _, a := range answers {
		if strings.Contains(input, a.Match) {
			return response{
				Status:      "ok",
				Output:      a.Output,
				Docs:        a.Docs,
				Sources:     a.Sources,
				UsageEvents: a.UsageEvents,
			}
		}
	}
	return response{
		Status:    "error",
		ErrorKind: "validation",
		Error:     "no canned answer matches input",
	}
}

func countInvocation(path string) int {
	count := 0
	if data, err := os.ReadFile(path); err == nil {
		count, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}
	count++
	os.WriteFile(path, []byte(strconv.Itoa(count)), 0o644)
	return count
}
