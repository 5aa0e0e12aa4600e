package probe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
)

func discardLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

const testAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *mempoolClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, newMempoolClient(srv.URL)
}

func TestProbeConfirmed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"chain_stats": map[string]any{"funded_txo_sum": 222222, "spent_txo_sum": 0},
		})
	})
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"txid": "abc123",
				"status": map[string]any{
					"confirmed":    true,
					"block_height": 100,
					"block_time":   1000,
				},
				"vout": []map[string]any{
					{"scriptpubkey_address": testAddress, "value": 222222},
				},
			},
		})
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(102)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &Prober{network: Mainnet, primary: newMempoolClient(srv.URL)}
	result := p.Probe(context.Background(), testAddress)

	if result.Kind != Confirmed {
		t.Fatalf("expected Confirmed, got %v", result.Kind)
	}
	if result.Confirmations != 3 {
		t.Fatalf("expected 3 confirmations (102-100+1), got %d", result.Confirmations)
	}
	if result.AmountBTC != 0.00222222 {
		t.Fatalf("expected 0.00222222 BTC, got %v", result.AmountBTC)
	}
}

func TestProbeNoPayment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"chain_stats": map[string]any{"funded_txo_sum": 0, "spent_txo_sum": 0},
		})
	})
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &Prober{network: Mainnet, primary: newMempoolClient(srv.URL)}
	result := p.Probe(context.Background(), testAddress)

	if result.Kind != NoPayment {
		t.Fatalf("expected NoPayment, got %v", result.Kind)
	}
}

func TestProbePending(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"chain_stats":   map[string]any{"funded_txo_sum": 0, "spent_txo_sum": 0},
			"mempool_stats": map[string]any{"funded_txo_sum": 100000, "spent_txo_sum": 0},
		})
	})
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"txid":   "pendingtx",
				"status": map[string]any{"confirmed": false},
				"vout": []map[string]any{
					{"scriptpubkey_address": testAddress, "value": 100000},
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := &Prober{network: Mainnet, primary: newMempoolClient(srv.URL)}
	result := p.Probe(context.Background(), testAddress)

	if result.Kind != Pending {
		t.Fatalf("expected Pending, got %v", result.Kind)
	}
	if result.Confirmations != 0 {
		t.Fatalf("expected 0 confirmations, got %d", result.Confirmations)
	}
}

func TestProbeApiFailedFallsBackOnMainnet(t *testing.T) {
	// Primary is unreachable (closed server); fallback succeeds.
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	failing.Close() // force connection refused

	mux := http.NewServeMux()
	mux.HandleFunc("/address/"+testAddress, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"chain_stats": map[string]any{"funded_txo_sum": 0, "spent_txo_sum": 0},
		})
	})
	mux.HandleFunc("/address/"+testAddress+"/txs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{})
	})
	fallback := httptest.NewServer(mux)
	defer fallback.Close()

	p := &Prober{
		network:  Mainnet,
		primary:  newMempoolClient(failing.URL),
		fallback: newBlockstreamClient(fallback.URL),
		logger:   discardLogger(),
	}

	result := p.Probe(context.Background(), testAddress)
	if result.Kind != NoPayment {
		t.Fatalf("expected fallback to report NoPayment, got %v", result.Kind)
	}
}

func TestRequiredConfirmations(t *testing.T) {
	if RequiredConfirmations(Mainnet) != 3 {
		t.Fatal("expected 3 required confirmations on mainnet")
	}
	if RequiredConfirmations(Testnet) != 6 {
		t.Fatal("expected 6 required confirmations on testnet")
	}
}
