// Package main provides the one-shot reconstruction CLI.
// Rebuilds per-wallet outstanding debt for one token and prints the
// ranked lender report as a table or JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lenderscan/internal/config"
	"lenderscan/internal/discovery"
	"lenderscan/internal/engine"
	"lenderscan/internal/evm"
	"lenderscan/internal/liquidity"
	"lenderscan/internal/methods"
	"lenderscan/internal/report"
	"lenderscan/internal/resolve"
	"lenderscan/internal/scanapi"
	"lenderscan/internal/storage"
	"lenderscan/internal/storage/migrations"
	pgstore "lenderscan/internal/storage/postgres"
)

func main() {
	cfg := config.Load()

	rpcEndpoint := flag.String("rpc-endpoint", cfg.RPCEndpoint, "node RPC HTTP endpoint")
	scanEndpoint := flag.String("scan-api", cfg.ScanAPIEndpoint, "transaction index API endpoint")
	scanKey := flag.String("scan-api-key", cfg.ScanAPIKey, "transaction index API key")
	chainID := flag.String("chain-id", cfg.ChainID, "chain ID for the index API")
	contract := flag.String("contract", cfg.ContractAddress, "lending contract address")
	token := flag.String("token", cfg.AssetAddress, "settlement asset address")
	lookbackBlocks := flag.Uint64("lookback-blocks", cfg.LookbackBlocks, "how many blocks of history to rebuild")
	timeout := flag.Duration("timeout", cfg.RunTimeout, "run deadline")
	noIndex := flag.Bool("no-index", cfg.DisableIndex, "skip the index API, use the windowed log scan only")
	postgresDSN := flag.String("postgres-dsn", cfg.PostgresDSN, "PostgreSQL DSN to archive the run (optional)")
	output := flag.String("output", "table", "output format: table or json")
	verbose := flag.Bool("verbose", false, "per-phase progress logging")
	flag.Parse()

	cfg.RPCEndpoint = *rpcEndpoint
	cfg.ScanAPIEndpoint = *scanEndpoint
	cfg.ScanAPIKey = *scanKey
	cfg.ChainID = *chainID
	cfg.ContractAddress = *contract
	cfg.AssetAddress = *token
	cfg.LookbackBlocks = *lookbackBlocks
	cfg.RunTimeout = *timeout
	cfg.DisableIndex = *noIndex
	cfg.PostgresDSN = *postgresDSN

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.AssetAddress == "" {
		fmt.Fprintln(os.Stderr, "--token is required")
		os.Exit(1)
	}
	if *output != "table" && *output != "json" {
		fmt.Fprintf(os.Stderr, "Unknown output format %q\n", *output)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, "[lenderscan] ", log.LstdFlags)

	node, err := evm.Dial(ctx, cfg.RPCEndpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to node: %v\n", err)
		os.Exit(1)
	}

	var runs storage.RunStore
	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to postgres: %v\n", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to run migrations: %v\n", err)
			os.Exit(1)
		}
		runs = pgstore.NewRunStore(pool)
	}

	var index discovery.IndexLister
	if !cfg.DisableIndex {
		index = scanapi.NewClient(cfg.ScanAPIEndpoint, cfg.ChainID, cfg.ScanAPIKey)
	}

	tokenAddr := common.HexToAddress(cfg.AssetAddress)
	catalog := methods.Default()
	contractAddr := common.HexToAddress(cfg.ContractAddress)

	var skip func(common.Address) bool
	if cfg.SkipContractAsWallet {
		skip = func(a common.Address) bool { return a == contractAddr }
	}

	reporterOpts := report.Options{
		Decimals:   cfg.AssetDecimals,
		TopN:       cfg.TopN,
		SkipWallet: skip,
	}
	if !cfg.DustFilterEnabled {
		// Threshold of one base unit keeps every nonzero balance.
		reporterOpts.DustThreshold = big.NewInt(1)
	}

	e := engine.New(engine.Options{
		Discoverer: discovery.New(discovery.Options{
			Index:       index,
			Node:        node,
			Catalog:     catalog,
			Contract:    contractAddr,
			PageSize:    cfg.PageSize,
			WindowSize:  cfg.WindowSize,
			WindowTxCap: cfg.WindowTxCap,
			OnProgress:  progressPrinter(*output),
			Logger:      logger,
		}),
		Resolver: resolve.New(resolve.Options{
			Node:    node,
			Catalog: catalog,
			Asset:   tokenAddr,
			Logger:  logger,
		}),
		Liquidity: liquidity.New(liquidity.Options{
			Node:     node,
			Asset:    tokenAddr,
			Decimals: cfg.AssetDecimals,
			Fallback: fallbackBaseUnits(cfg.FallbackLiquidity, cfg.AssetDecimals),
			Logger:   logger,
		}),
		Reporter: report.New(reporterOpts),
		Runs:     runs,
		Workers:  cfg.Workers,
		Timeout:  cfg.RunTimeout,
		Verbose:  *verbose,
		Logger:   logger,
	})

	lookback := time.Duration(cfg.LookbackBlocks) * discovery.DefaultBlockTime

	res, err := e.Run(ctx, tokenAddr, lookback)
	if err != nil {
		if errors.Is(err, engine.ErrRunTimeout) {
			fmt.Fprintf(os.Stderr, "Run timed out after %v\n", cfg.RunTimeout)
		} else {
			fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		}
		os.Exit(1)
	}

	switch *output {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Result); err != nil {
			fmt.Fprintf(os.Stderr, "Encode result: %v\n", err)
			os.Exit(1)
		}
	default:
		printTable(res, cfg.AssetDecimals)
	}
}

// fallbackBaseUnits converts the configured whole-unit fallback liquidity
// into base units.
func fallbackBaseUnits(wholeUnits uint64, decimals int) *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Int).Mul(new(big.Int).SetUint64(wholeUnits), unit)
}

// progressPrinter streams discovery progress to stderr for the table
// output; JSON runs stay quiet so stdout is parseable on its own.
func progressPrinter(output string) func(discovery.Progress) {
	if output != "table" {
		return nil
	}
	return func(p discovery.Progress) {
		fmt.Fprintf(os.Stderr, "\rDiscovering (%s): %3.0f%%, %d candidates", p.Strategy, p.Fraction*100, p.Candidates)
		if p.Fraction >= 1 {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func printTable(res *engine.RunResult, decimals int) {
	r := res.Result

	fmt.Printf("Token %s: top lenders by outstanding debt\n", r.QueriedToken.Hex())
	fmt.Printf("Run %s completed in %v: %d candidates, %d deltas\n\n",
		res.RunID[:12], res.Duration.Round(time.Millisecond), res.Candidates, res.Deltas)

	if len(r.Lenders) == 0 {
		fmt.Println("No outstanding debt above the dust threshold.")
	} else {
		fmt.Printf("%-4s %-14s %20s %10s\n", "#", "Wallet", "Outstanding", "Pool %")
		for i, l := range r.Lenders {
			fmt.Printf("%-4d %-14s %20s %10s\n",
				i+1,
				report.ShortenAddress(l.Address),
				report.FormatUnits(l.Balance, decimals),
				report.FormatPercent(l.PoolPercentage),
			)
		}
	}

	fmt.Printf("\nTotal outstanding: %s\n", report.FormatUnits(r.TotalLent, decimals))
	fmt.Printf("Pool liquidity:    %s (%s)\n", report.FormatUnits(r.TotalPoolLiquidity, decimals), r.LiquiditySource)
}
