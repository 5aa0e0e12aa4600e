// Command donationserver wires the payment core's packages behind three
// HTTP endpoints. Flag-driven startup mirrors the teacher's
// example/reverseproxy CLI, trading its reverse-proxy/paywall-middleware
// setup for the Bitcoin donation endpoints this module implements.
package main

import (
	"encoding/json"
	"flag"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	wileedot "github.com/opd-ai/wileedot"

	"github.com/opd-ai/btcdonate/config"
	"github.com/opd-ai/btcdonate/oracle"
	"github.com/opd-ai/btcdonate/orchestrator"
	"github.com/opd-ai/btcdonate/probe"
	"github.com/opd-ai/btcdonate/scheduler"
	"github.com/opd-ai/btcdonate/store"
)

var (
	hostname    = flag.String("hostname", "localhost", "hostname to bind")
	port        = flag.String("port", "8080", "port to bind")
	storeDir    = flag.String("store-dir", "./pending-payments", "directory for pending-payment rows")
	encryptStore = flag.Bool("encrypt-store", false, "encrypt pending-payment rows at rest")
	keyPath     = flag.String("store-key", "./keys/store.key", "path to the store encryption key (only used with -encrypt-store)")
	letsencrypt = flag.Bool("letsencrypt", false, "use Let's Encrypt for HTTPS")
	email       = flag.String("email", "", "email for Let's Encrypt certificate")
	certDir     = flag.String("cert-dir", "./certs", "directory for Let's Encrypt certificates")
)

func main() {
	flag.Parse()

	logger := log.Default()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal(err)
	}

	var st store.Store
	if *encryptStore {
		es, err := store.NewEncryptedFileStore(*keyPath, *storeDir)
		if err != nil {
			logger.Fatal(err)
		}
		st = es
	} else {
		fs, err := store.NewFileStore(*storeDir, logger)
		if err != nil {
			logger.Fatal(err)
		}
		st = fs
	}

	priceOracle := oracle.New(logger)
	prober := probe.New(cfg.Network, logger)
	sched := scheduler.NewInProcess()
	defer sched.Stop()

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Oracle:    priceOracle,
		Prober:    prober,
		Scheduler: sched,
		MasterKey: cfg.MasterKey.Value(),
		Network:   cfg.Network,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal(err)
	}

	sched.RunHourly(func() {
		result, err := orch.CleanupExpired()
		if err != nil {
			logger.Error("hourly cleanup failed", "err", err)
			return
		}
		logger.Info("hourly cleanup complete",
			"expired_initialized", result.ExpiredInitialized,
			"expired_pending", result.ExpiredPending,
			"deleted_confirmed", result.DeletedConfirmed,
			"deleted_expired", result.DeletedExpired)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/bitcoin/generate", handleGenerate(orch, logger))
	mux.HandleFunc("/bitcoin/status", handleStatus(orch, logger))
	mux.HandleFunc("/bitcoin/expire", handleExpire(orch, logger))

	var listener net.Listener
	if *letsencrypt {
		listener, err = wileedot.New(wileedot.Config{
			Domain:         *hostname,
			AllowedDomains: []string{*hostname},
			CertDir:        *certDir,
			Email:          *email,
		})
		if err != nil {
			logger.Fatal(err)
		}
	} else {
		listener, err = net.Listen("tcp", net.JoinHostPort(*hostname, *port))
		if err != nil {
			logger.Fatal(err)
		}
	}

	logger.Info("donation server listening", "addr", listener.Addr().String())
	if err := http.Serve(listener, mux); err != nil {
		logger.Fatal(err)
	}
}

type generateRequest struct {
	AmountUSD     float64 `json:"amount_usd"`
	SessionID     string  `json:"session_id"`
	PlayerName    string  `json:"player_name,omitempty"`
	UsePlayerName bool    `json:"use_player_name,omitempty"`
	Message       string  `json:"message,omitempty"`
}

type generateResponse struct {
	Address         string  `json:"address"`
	AmountBTC       float64 `json:"amount_btc"`
	AmountUSD       float64 `json:"amount_usd"`
	ExchangeRate    float64 `json:"exchange_rate"`
	DerivationIndex uint32  `json:"derivation_index"`
	PaymentURI      string  `json:"payment_uri"`
}

func handleGenerate(orch *orchestrator.Orchestrator, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		result, err := orch.GenerateAddress(r.Context(), req.AmountUSD, req.SessionID, store.Metadata{
			PlayerName:    req.PlayerName,
			UsePlayerName: req.UsePlayerName,
			Message:       req.Message,
		})
		if err != nil {
			writeOrchestratorError(w, logger, err)
			return
		}

		label := "Anonymous"
		if req.UsePlayerName && req.PlayerName != "" {
			label = req.PlayerName
		}

		writeJSON(w, http.StatusOK, generateResponse{
			Address:         result.Address,
			AmountBTC:       result.AmountBTC,
			AmountUSD:       result.AmountUSD,
			ExchangeRate:    result.ExchangeRate,
			DerivationIndex: result.DerivationIndex,
			PaymentURI:      orchestrator.BuildPaymentURI(result.Address, result.AmountBTC, label, req.Message),
		})
	}
}

func handleStatus(orch *orchestrator.Orchestrator, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		address := r.URL.Query().Get("address")
		sessionID := r.URL.Query().Get("session_id")

		result, err := orch.CheckPayment(r.Context(), address, sessionID)
		if err != nil {
			writeOrchestratorError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleExpire(orch *orchestrator.Orchestrator, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Address   string `json:"address"`
			SessionID string `json:"session_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
		if err := orch.MarkExpired(req.Address, req.SessionID); err != nil {
			writeOrchestratorError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOrchestratorError maps an orchestrator.Error to an HTTP status and a
// generic, user-safe message; the specific code and cause stay in logs.
func writeOrchestratorError(w http.ResponseWriter, logger *log.Logger, err error) {
	oerr, ok := err.(*orchestrator.Error)
	if !ok {
		logger.Error("unexpected error", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	logger.Warn("request failed", "code", oerr.Code, "message", oerr.Message, "err", oerr.Err)

	status := http.StatusInternalServerError
	switch oerr.Code {
	case orchestrator.CodeValidation:
		status = http.StatusBadRequest
	case orchestrator.CodeRateLimited:
		status = http.StatusTooManyRequests
	case orchestrator.CodeNotOwned:
		status = http.StatusForbidden
	case orchestrator.CodeExpired:
		status = http.StatusGone
	case orchestrator.CodeUnderpayment:
		status = http.StatusUnprocessableEntity
	case orchestrator.CodeOracleUnavailable, orchestrator.CodeTransient:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"error": "Unable to process Bitcoin payment request. Please try again or choose another method.",
	})
}

