package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	flag "github.com/spf13/pflag"

	"github.com/badger-finance/sett-keeper/keeper/pkg/deployment"
	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/badger-finance/sett-keeper/keeper/pkg/emissions"
	"github.com/badger-finance/sett-keeper/keeper/pkg/eth"
	"github.com/badger-finance/sett-keeper/keeper/pkg/metrics"
	"github.com/badger-finance/sett-keeper/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	verboseFlag := flag.Bool("verbose", false, "Enable verbose (debug) logging")

	// Chain configuration
	rpcURLFlag := flag.String("rpc-url", "", "Ethereum JSON-RPC URL (or set ETH_RPC_URL env var)")
	keeperKeyFlag := flag.String("keeper-key", "", "Hex private key of the keeper account (or set KEEPER_PRIVATE_KEY env var)")
	rpcRateLimitFlag := flag.Float64("rpc-rate-limit", 0, "Maximum RPC requests per second, 0 for unlimited (or set ETH_RPC_RATE_LIMIT env var)")
	forkFlag := flag.Bool("fork", false, "Running against a local fork: fund deployer, keeper and guardian from the node's first account")

	// Inputs
	deploymentFlag := flag.String("deployment", deployment.DefaultFile, "Deployment registry JSON file (or set DEPLOYMENT_FILE env var)")
	emissionsFlag := flag.String("emissions", "", "Emissions schedule JSON file, required by daily emission entries (or set EMISSIONS_FILE env var)")
	planFlag := flag.String("plan", "", "Cycle plan JSON file, defaults to the built-in rapid harvest plan")

	// Single transfer
	keyFlag := flag.String("key", "", "Run a single transfer to the strategy registered under this key instead of a cycle, reported as a one-entry cycle")
	amountFlag := flag.String("amount", "", "Amount for --key, in token units (e.g. 3750.5)")
	decimalsFlag := flag.Int("decimals", distributor.DefaultDecimals, "Token decimals for --amount and reporting, at least 1")

	// Reporting
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL URL for cycle history (or set POSTGRES_URL env var)")
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "Run history migrations before recording (or set POSTGRES_RUN_MIGRATIONS=true env var)")
	slackWebhookURLFlag := flag.String("slack-webhook-url", "", "Slack incoming webhook for cycle summaries (or set SLACK_WEBHOOK_URL env var)")
	pushgatewayURLFlag := flag.String("pushgateway-url", "", "Prometheus Pushgateway URL (or set PUSHGATEWAY_URL env var)")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for halted cycles (or set SENTRY_DSN env var)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set
	if v := os.Getenv("ETH_RPC_URL"); v != "" {
		*rpcURLFlag = v
	}
	if v := os.Getenv("KEEPER_PRIVATE_KEY"); v != "" {
		*keeperKeyFlag = v
	}
	if v := os.Getenv("ETH_RPC_RATE_LIMIT"); v != "" {
		limit, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid ETH_RPC_RATE_LIMIT %q: %w", v, err)
		}
		*rpcRateLimitFlag = limit
	}
	if v := os.Getenv("DEPLOYMENT_FILE"); v != "" {
		*deploymentFlag = v
	}
	if v := os.Getenv("EMISSIONS_FILE"); v != "" {
		*emissionsFlag = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		*postgresURLFlag = v
	}
	if os.Getenv("POSTGRES_RUN_MIGRATIONS") == "true" {
		*postgresMigrateFlag = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		*slackWebhookURLFlag = v
	}
	if v := os.Getenv("PUSHGATEWAY_URL"); v != "" {
		*pushgatewayURLFlag = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		*sentryDSNFlag = v
	}

	if *rpcURLFlag == "" {
		return errors.New("--rpc-url is required")
	}
	if *keeperKeyFlag == "" {
		return errors.New("--keeper-key is required")
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     *sentryDSNFlag,
			Release: version,
		}); err != nil {
			return fmt.Errorf("failed to init sentry: %w", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dep, err := deployment.LoadFile(*deploymentFlag)
	if err != nil {
		return err
	}

	var schedule *emissions.Schedule
	if *emissionsFlag != "" {
		schedule, err = emissions.LoadFile(*emissionsFlag)
		if err != nil {
			return err
		}
	}

	plan := distributor.RapidHarvestPlan()
	if *planFlag != "" {
		f, err := os.Open(*planFlag)
		if err != nil {
			return fmt.Errorf("failed to open plan: %w", err)
		}
		plan, err = distributor.LoadPlan(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to load plan %s: %w", *planFlag, err)
		}
	}
	if err := checkDeployment(dep, *keyFlag, plan); err != nil {
		return fmt.Errorf("deployment %s: %w", *deploymentFlag, err)
	}

	var amount *big.Int
	if *keyFlag != "" {
		amount, err = parseAmount(*amountFlag, *decimalsFlag)
		if err != nil {
			return err
		}
	}

	keeperKey, err := crypto.HexToECDSA(strings.TrimPrefix(*keeperKeyFlag, "0x"))
	if err != nil {
		return fmt.Errorf("invalid keeper key: %w", err)
	}

	rpcClient, err := rpc.DialContext(ctx, *rpcURLFlag)
	if err != nil {
		return fmt.Errorf("failed to dial rpc: %w", err)
	}
	defer rpcClient.Close()

	if *forkFlag {
		if err := eth.FundTestAccounts(ctx, log, rpcClient, dep.TestAccounts(), eth.DefaultFundAmount); err != nil {
			return err
		}
	}

	ledger, err := eth.NewClient(ctx, eth.ClientConfig{
		Logger:         log,
		Backend:        ethclient.NewClient(rpcClient),
		KeeperKey:      keeperKey,
		RewardsManager: dep.RewardsManager,
		RateLimit:      *rpcRateLimitFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create eth client: %w", err)
	}

	distCfg := distributor.Config{
		Logger:   log,
		Ledger:   ledger,
		Registry: dep,
		Manager:  dep.RewardsManager,
		Output:   os.Stdout,
	}
	if schedule != nil {
		distCfg.Emissions = schedule
	}
	dist, err := distributor.NewDistributor(distCfg)
	if err != nil {
		return fmt.Errorf("failed to create distributor: %w", err)
	}

	var (
		res      *distributor.CycleResult
		cycleErr error
	)
	if *keyFlag != "" {
		res, cycleErr = dist.RunSingle(ctx, *keyFlag, amount, *decimalsFlag)
	} else {
		res, cycleErr = dist.RunCycle(ctx, plan)
	}
	if res == nil {
		return cycleErr
	}

	network := "mainnet"
	if *forkFlag {
		network = "fork"
	}
	reporter := &reporter{
		log:             log,
		chainID:         ledger.ChainID(),
		network:         network,
		postgresURL:     *postgresURLFlag,
		postgresMigrate: *postgresMigrateFlag,
		slackWebhookURL: *slackWebhookURLFlag,
		pushgatewayURL:  *pushgatewayURLFlag,
		sentryEnabled:   *sentryDSNFlag != "",
	}
	// Reporting outlives an interrupted cycle.
	reportCtx, reportCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer reportCancel()
	reporter.report(reportCtx, res, cycleErr)

	return cycleErr
}

// checkDeployment verifies that the deployment registers the strategy for key, or for every plan
// entry when key is empty.
func checkDeployment(dep *deployment.Deployment, key string, plan []distributor.Entry) error {
	var missing []string
	if key != "" {
		if _, err := dep.Strategy(key); err != nil {
			missing = []string{key}
		}
	} else {
		missing = dep.Missing(plan)
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("no strategies for %s (registered: %s)", strings.Join(missing, ", "), strings.Join(dep.StrategyKeys(), ", "))
}

// parseAmount converts a token-unit amount such as "3750.5" into base units. Decimals below 1 are
// rejected since reporting treats them as 18.
func parseAmount(raw string, decimals int) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("--amount is required with --key")
	}
	if decimals < 1 {
		return nil, fmt.Errorf("--decimals must be at least 1, got %d", decimals)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid --amount %q: must not be negative", raw)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("invalid --amount %q: more than %d decimal places", raw, decimals)
	}
	return shifted.BigInt(), nil
}

func logCycleSummary(log *slog.Logger, res *distributor.CycleResult) {
	attrs := []any{
		"cycle", res.ID.String(),
		"transfers", len(res.Transfers),
		"skipped", len(res.Skipped),
		"duration", res.Duration().String(),
	}
	if res.Completed() {
		log.Info("rapid-harvest: cycle completed", attrs...)
		return
	}
	log.Error("rapid-harvest: cycle halted", append(attrs, "failed_index", res.Failure.Index, "failed_key", res.Failure.Entry.Key)...)
}
