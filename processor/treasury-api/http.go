package treasuryapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/reliefgrid/treasury/fund"
	"github.com/reliefgrid/treasury/ledger"
)

// RegisterHTTPHandlers registers all treasury-api HTTP handlers under the
// given prefix. Handlers are registered as:
//
//	GET  <prefix>/tx/{id}
//	POST <prefix>/tx/{id}/retry
//	GET  <prefix>/stats
//	POST <prefix>/stop
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalise: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"tx/", c.handleTransaction)
	mux.HandleFunc(prefix+"stats", c.handleStats)
	mux.HandleFunc(prefix+"stop", c.handleStop)

	c.txPrefix = prefix + "tx/"
}

// retryResponse is the structured result of a retry request, so callers can
// distinguish not-found from not-failed from accepted-but-unsupported.
type retryResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// handleTransaction routes GET <prefix>/tx/{id} and POST <prefix>/tx/{id}/retry.
func (c *Component) handleTransaction(w http.ResponseWriter, r *http.Request) {
	c.requestsServed.Add(1)

	rest := strings.TrimPrefix(r.URL.Path, c.txPrefix)
	if rest == "" {
		http.Error(w, "Transaction id required", http.StatusBadRequest)
		return
	}

	if id, found := strings.CutSuffix(rest, "/retry"); found {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		c.handleRetry(w, id)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.Contains(rest, "/") {
		http.Error(w, "Unknown endpoint", http.StatusNotFound)
		return
	}
	c.handleGet(w, rest)
}

// handleGet returns a snapshot of one disbursement, consistent with
// whichever partition currently holds it.
func (c *Component) handleGet(w http.ResponseWriter, id string) {
	snapshot, err := c.store.Get(id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			http.Error(w, "Transaction not found", http.StatusNotFound)
			return
		}
		c.logger.Error("Transaction lookup failed", "transaction_id", id, "error", err)
		http.Error(w, "Lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

// handleRetry accepts a retry request for a failed disbursement. Retry is a
// documented no-op: the policy inputs needed to recompute amount and
// recipients are not retained, so the operation reports a distinct
// "unsupported" outcome instead of silently doing nothing.
func (c *Component) handleRetry(w http.ResponseWriter, id string) {
	snapshot, err := c.store.Get(id)
	if err != nil || snapshot.Status == fund.StatusPending {
		// Retry looks only at the completed partition.
		writeJSON(w, http.StatusNotFound, retryResponse{
			Status:        "transaction_not_found",
			TransactionID: id,
		})
		return
	}

	if snapshot.Status != fund.StatusFailed {
		writeJSON(w, http.StatusConflict, retryResponse{
			Status:        "transaction_not_failed",
			TransactionID: id,
		})
		return
	}

	c.logger.Info("Retry requested for failed transaction", "transaction_id", id)
	writeJSON(w, http.StatusNotImplemented, retryResponse{
		Status:        "retry_not_implemented",
		TransactionID: id,
	})
}

// statsResponse aggregates ledger statistics with live gateway state.
type statsResponse struct {
	ledger.Stats
	AccountBalance string            `json:"account_balance,omitempty"`
	NetworkInfo    map[string]string `json:"network_info,omitempty"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// handleStats returns aggregate statistics over both partitions plus the
// live gateway balance and network identity. Gateway state is fetched fresh
// on every request, never cached; when the gateway is unreachable the ledger
// figures are still returned.
func (c *Component) handleStats(w http.ResponseWriter, r *http.Request) {
	c.requestsServed.Add(1)

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := statsResponse{
		Stats:       c.store.Stats(),
		LastUpdated: time.Now().UTC(),
	}

	if balance, err := c.ledger.Balance(r.Context()); err != nil {
		c.logger.Warn("Balance query failed for stats", "error", err)
	} else {
		resp.AccountBalance = balance.String()
	}

	if info, err := c.ledger.NetworkInfo(r.Context()); err != nil {
		c.logger.Warn("Network info query failed for stats", "error", err)
	} else {
		resp.NetworkInfo = info
	}

	writeJSON(w, http.StatusOK, resp)
}

// stopResponse reports the result of an emergency stop.
type stopResponse struct {
	Status              string    `json:"status"`
	StoppedTransactions int       `json:"stopped_transactions"`
	Timestamp           time.Time `json:"timestamp"`
}

// handleStop atomically moves every pending disbursement to the completed
// partition with stopped status. The move happens in one ledger critical
// section, so a concurrently running sweep can neither overwrite a stop nor
// resurrect a stopped entry.
func (c *Component) handleStop(w http.ResponseWriter, r *http.Request) {
	c.requestsServed.Add(1)

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c.logger.Warn("Emergency stop activated - halting all funding operations")
	stopped := c.store.StopAll()
	c.stopsTriggered.Add(1)

	writeJSON(w, http.StatusOK, stopResponse{
		Status:              "emergency_stop_activated",
		StoppedTransactions: len(stopped),
		Timestamp:           time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
