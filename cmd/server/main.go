// Package main serves outstanding-debt reports over HTTP:
// - GET /api/lenders?token=0x..  runs a full reconstruction and returns JSON
// - GET /api/runs?token=0x..     lists archived runs for a token
// - GET /healthz, GET /metrics   health and Prometheus metrics
// Optionally watches the lending contract live over WebSocket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/config"
	"lenderscan/internal/discovery"
	"lenderscan/internal/engine"
	"lenderscan/internal/evm"
	"lenderscan/internal/liquidity"
	"lenderscan/internal/methods"
	"lenderscan/internal/observability"
	"lenderscan/internal/report"
	"lenderscan/internal/resolve"
	"lenderscan/internal/scanapi"
	"lenderscan/internal/storage"
	"lenderscan/internal/storage/memory"
	"lenderscan/internal/storage/migrations"
	pgstore "lenderscan/internal/storage/postgres"
)

// Server holds the wired components and per-request engine assembly.
type Server struct {
	cfg    *config.Config
	node   evm.NodeReader
	index  discovery.IndexLister
	runs   storage.RunStore
	logger *log.Logger

	// One reconstruction at a time: runs recompute everything and a
	// concurrent second run only doubles the RPC load.
	runMu sync.Mutex
}

func main() {
	cfg := config.Load()

	httpAddr := flag.String("http-addr", ":"+cfg.HTTPPort, "HTTP listen address")
	rpcEndpoint := flag.String("rpc-endpoint", cfg.RPCEndpoint, "node RPC HTTP endpoint")
	wsEndpoint := flag.String("ws-endpoint", cfg.WSEndpoint, "node WebSocket endpoint (enables live watch)")
	scanEndpoint := flag.String("scan-api", cfg.ScanAPIEndpoint, "transaction index API endpoint")
	scanKey := flag.String("scan-api-key", cfg.ScanAPIKey, "transaction index API key")
	chainID := flag.String("chain-id", cfg.ChainID, "chain ID for the index API")
	contract := flag.String("contract", cfg.ContractAddress, "lending contract address")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL DSN for the run archive (empty: in-memory)")
	flag.Parse()

	cfg.RPCEndpoint = *rpcEndpoint
	cfg.ScanAPIEndpoint = *scanEndpoint
	cfg.ScanAPIKey = *scanKey
	cfg.ChainID = *chainID
	cfg.ContractAddress = *contract
	cfg.PostgresDSN = *postgresDSN
	cfg.WSEndpoint = *wsEndpoint

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	node, err := evm.Dial(ctx, cfg.RPCEndpoint)
	if err != nil {
		logger.Fatalf("Failed to connect to node: %v", err)
	}

	runs, cleanup, err := createRunStore(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("Failed to create run store: %v", err)
	}
	defer cleanup()

	srv := &Server{
		cfg:    cfg,
		node:   node,
		runs:   runs,
		logger: logger,
	}
	if !cfg.DisableIndex {
		srv.index = scanapi.NewClient(cfg.ScanAPIEndpoint, cfg.ChainID, cfg.ScanAPIKey)
	}

	if cfg.WSEndpoint != "" {
		go srv.watchContract(ctx)
	}

	httpSrv := &http.Server{
		Addr:    *httpAddr,
		Handler: srv.routes(),
	}

	go func() {
		<-ctx.Done()
		logger.Println("Shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Shutdown error: %v", err)
		}
	}()

	logger.Printf("Listening on %s (contract %s, chain %s)", *httpAddr, cfg.ContractAddress, cfg.ChainID)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("HTTP server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// createRunStore picks the archive backend: PostgreSQL when a DSN is
// given, otherwise in-memory.
func createRunStore(ctx context.Context, dsn string) (storage.RunStore, func(), error) {
	if dsn == "" {
		return memory.NewRunStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	return pgstore.NewRunStore(pool), pool.Close, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/lenders", s.handleLenders)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	return mux
}

// newEngine assembles a fresh pipeline for one request.
func (s *Server) newEngine(token common.Address) *engine.Engine {
	catalog := methods.Default()
	contract := common.HexToAddress(s.cfg.ContractAddress)

	var skip func(common.Address) bool
	if s.cfg.SkipContractAsWallet {
		skip = func(a common.Address) bool { return a == contract }
	}

	reporterOpts := report.Options{
		Decimals:   s.cfg.AssetDecimals,
		TopN:       s.cfg.TopN,
		SkipWallet: skip,
	}
	if !s.cfg.DustFilterEnabled {
		// Threshold of one base unit keeps every nonzero balance.
		reporterOpts.DustThreshold = big.NewInt(1)
	}

	return engine.New(engine.Options{
		Discoverer: discovery.New(discovery.Options{
			Index:       s.index,
			Node:        s.node,
			Catalog:     catalog,
			Contract:    contract,
			PageSize:    s.cfg.PageSize,
			WindowSize:  s.cfg.WindowSize,
			WindowTxCap: s.cfg.WindowTxCap,
			Logger:      s.logger,
		}),
		Resolver: resolve.New(resolve.Options{
			Node:      s.node,
			Catalog:   catalog,
			Asset:     token,
			CacheSize: 4096,
			Logger:    s.logger,
		}),
		Liquidity: liquidity.New(liquidity.Options{
			Node:     s.node,
			Asset:    token,
			Decimals: s.cfg.AssetDecimals,
			Fallback: fallbackBaseUnits(s.cfg.FallbackLiquidity, s.cfg.AssetDecimals),
			Logger:   s.logger,
		}),
		Reporter: report.New(reporterOpts),
		Runs:     s.runs,
		Workers:  s.cfg.Workers,
		Timeout:  s.cfg.RunTimeout,
		Verbose:  true,
		Logger:   s.logger,
	})
}

// handleLenders runs a reconstruction for the requested token.
func (s *Server) handleLenders(w http.ResponseWriter, r *http.Request) {
	tokenParam := r.URL.Query().Get("token")
	if !common.IsHexAddress(tokenParam) {
		httpError(w, http.StatusBadRequest, "token must be a hex address")
		return
	}
	token := common.HexToAddress(tokenParam)

	lookback := blockLookback(s.cfg.LookbackBlocks)
	if lb := r.URL.Query().Get("lookback"); lb != "" {
		d, err := time.ParseDuration(lb)
		if err != nil || d <= 0 {
			httpError(w, http.StatusBadRequest, "lookback must be a positive duration")
			return
		}
		lookback = d
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	res, err := s.newEngine(token).Run(r.Context(), token, lookback)
	if err != nil {
		if errors.Is(err, engine.ErrRunTimeout) {
			httpError(w, http.StatusGatewayTimeout, "reconstruction timed out")
			return
		}
		s.logger.Printf("Run failed: %v", err)
		httpError(w, http.StatusBadGateway, "upstream fetch failed: "+rootCause(err))
		return
	}

	writeJSON(w, http.StatusOK, res.Result)
}

// handleRuns lists archived runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if tokenParam := r.URL.Query().Get("token"); tokenParam != "" {
		if !common.IsHexAddress(tokenParam) {
			httpError(w, http.StatusBadRequest, "token must be a hex address")
			return
		}
		runs, err := s.runs.GetByToken(ctx, common.HexToAddress(tokenParam))
		if err != nil {
			s.logger.Printf("List runs failed: %v", err)
			httpError(w, http.StatusInternalServerError, "archive unavailable")
			return
		}
		writeJSON(w, http.StatusOK, runs)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.GetRecent(ctx, limit)
	if err != nil {
		s.logger.Printf("List runs failed: %v", err)
		httpError(w, http.StatusInternalServerError, "archive unavailable")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// watchContract subscribes to the lending contract's logs and reports
// new activity as it lands. Purely informational: the next run still
// recomputes from history.
func (s *Server) watchContract(ctx context.Context) {
	ws, err := evm.NewWSClient(ctx, s.cfg.WSEndpoint, nil)
	if err != nil {
		s.logger.Printf("Live watch disabled: %v", err)
		return
	}
	defer ws.Close()

	logs, err := ws.SubscribeLogs(ctx, evm.LogFilter{
		Addresses: []common.Address{common.HexToAddress(s.cfg.ContractAddress)},
	})
	if err != nil {
		s.logger.Printf("Live watch disabled: %v", err)
		return
	}

	s.logger.Printf("Watching %s for live activity", s.cfg.ContractAddress)
	for {
		select {
		case <-ctx.Done():
			return
		case lg, ok := <-logs:
			if !ok {
				return
			}
			s.logger.Printf("Live activity: tx %s block %d", lg.TxHash.Hex(), lg.BlockNumber)
		}
	}
}

// blockLookback converts the configured block count into the duration the
// engine expects, using the chain's block time.
func blockLookback(blocks uint64) time.Duration {
	return time.Duration(blocks) * discovery.DefaultBlockTime
}

// fallbackBaseUnits converts the configured whole-unit fallback liquidity
// into base units.
func fallbackBaseUnits(wholeUnits uint64, decimals int) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(new(big.Int).SetUint64(wholeUnits), unit)
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

// rootCause keeps error responses short: one cause, no wrap chain.
func rootCause(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}
