// Package main implements a mock ledger gateway for e2e testing.
// It serves the gateway API (/v1/balance, /v1/transfers, /v1/recipients,
// /v1/network) with deterministic, time-based transfer confirmation. This
// eliminates the need for a real ledger network during settlement wiring
// tests, making them fast, deterministic, and offline-capable.
//
// Usage:
//
//	mock-ledger -port 9620 -balance 100 -confirm-after 2s
//
// Submitted transfers start pending and flip to confirmed once
// -confirm-after has elapsed. Transfers to an address starting with "fail-"
// are reported as failed instead, and -fail-nth N fails every Nth submitted
// transfer. This enables testing the full confirmed/failed/timeout sweep
// matrix against a live process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

type transferRequest struct {
	Transfers []struct {
		Address string          `json:"address"`
		Amount  decimal.Decimal `json:"amount"`
	} `json:"transfers"`
}

type transferResult struct {
	Address string `json:"address"`
	Ref     string `json:"transfer_ref"`
}

// transferRecord tracks a submitted transfer for status queries.
type transferRecord struct {
	Ref         string
	Address     string
	Amount      decimal.Decimal
	SubmittedAt time.Time
	Failed      bool
}

type server struct {
	balance      decimal.Decimal
	confirmAfter time.Duration
	failNth      int64

	submitted atomic.Int64 // total transfers accepted

	mu        sync.Mutex
	transfers map[string]*transferRecord
}

func newServer(balance decimal.Decimal, confirmAfter time.Duration, failNth int64) *server {
	return &server{
		balance:      balance,
		confirmAfter: confirmAfter,
		failNth:      failNth,
		transfers:    make(map[string]*transferRecord),
	}
}

func main() {
	port := flag.Int("port", 9620, "port to listen on")
	balanceStr := flag.String("balance", "100", "account balance to report")
	confirmAfter := flag.Duration("confirm-after", 2*time.Second, "delay before a pending transfer confirms")
	failNth := flag.Int64("fail-nth", 0, "fail every Nth submitted transfer (0 disables)")
	flag.Parse()

	balance, err := decimal.NewFromString(*balanceStr)
	if err != nil {
		log.Fatalf("Invalid -balance %q: %v", *balanceStr, err)
	}

	s := newServer(balance, *confirmAfter, *failNth)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/network", s.handleNetwork)
	mux.HandleFunc("/v1/balance", s.handleBalance)
	mux.HandleFunc("/v1/transfers", s.handleSubmit)
	mux.HandleFunc("/v1/transfers/", s.handleStatus)
	mux.HandleFunc("/v1/recipients/", s.handleRecipients)
	mux.HandleFunc("/stats", s.handleStats)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Mock ledger listening on %s (balance=%s confirm_after=%s fail_nth=%d)",
		addr, balance, *confirmAfter, *failNth)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *server) handleNetwork(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"network": "mocknet",
		"node":    "mock-ledger",
		"version": "1.0.0",
	})
}

func (s *server) handleBalance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{
		"balance": s.balance,
	})
}

func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Transfers) == 0 {
		http.Error(w, "no transfers in request", http.StatusBadRequest)
		return
	}

	now := time.Now()
	results := make([]transferResult, 0, len(req.Transfers))

	s.mu.Lock()
	for _, t := range req.Transfers {
		n := s.submitted.Add(1)
		ref := fmt.Sprintf("mock-ref-%d", n)

		failed := strings.HasPrefix(t.Address, "fail-")
		if s.failNth > 0 && n%s.failNth == 0 {
			failed = true
		}

		s.transfers[ref] = &transferRecord{
			Ref:         ref,
			Address:     t.Address,
			Amount:      t.Amount,
			SubmittedAt: now,
			Failed:      failed,
		}
		results = append(results, transferResult{Address: t.Address, Ref: ref})
		log.Printf("[transfer %d] ref=%s address=%s amount=%s failed=%v",
			n, ref, t.Address, t.Amount, failed)
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{"results": results})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/v1/transfers/")
	if ref == "" {
		http.Error(w, "missing transfer ref", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	rec, ok := s.transfers[ref]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("unknown transfer ref %q", ref), http.StatusNotFound)
		return
	}

	status := "pending"
	switch {
	case rec.Failed:
		status = "failed"
	case time.Since(rec.SubmittedAt) >= s.confirmAfter:
		status = "confirmed"
	}

	writeJSON(w, map[string]string{
		"ref":    ref,
		"status": status,
	})
}

// handleRecipients returns a fixed recipient table per disaster type so the
// settlement agent can run without a policy table file.
func (s *server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	disasterType := strings.TrimPrefix(r.URL.Path, "/v1/recipients/")
	if disasterType == "" {
		http.Error(w, "missing disaster type", http.StatusBadRequest)
		return
	}

	type weighted struct {
		Address string  `json:"address"`
		Weight  float64 `json:"weight"`
	}

	recipients := []weighted{
		{Address: "mock-relief-fund", Weight: 0.7},
		{Address: "mock-local-response", Weight: 0.3},
	}
	if disasterType == "casualty" {
		recipients = []weighted{
			{Address: "mock-medical-fund", Weight: 1.0},
		}
	}

	writeJSON(w, map[string]any{"recipients": recipients})
}

// handleStats returns counters for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	pending, confirmed, failed := 0, 0, 0
	for _, rec := range s.transfers {
		switch {
		case rec.Failed:
			failed++
		case time.Since(rec.SubmittedAt) >= s.confirmAfter:
			confirmed++
		default:
			pending++
		}
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"total_transfers": s.submitted.Load(),
		"pending":         pending,
		"confirmed":       confirmed,
		"failed":          failed,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
