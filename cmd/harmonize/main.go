// Command harmonize runs the cross-chain virtual-account engine: it
// loads a TOML configuration (spec §6), opens durable cursor storage,
// configures every network, starts the scrape/process scheduler (spec
// §4.I) and blocks until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/chain-fusion/harmonize/config"
	"github.com/chain-fusion/harmonize/internal/ecdsaoracle"
	"github.com/chain-fusion/harmonize/internal/engine"
	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/store"
	"github.com/chain-fusion/harmonize/internal/types"
)

// harmonizeCategory groups this command's own flags in --help output,
// the same role flags.RollupCategory plays for the teacher's
// rollup-specific flags in cmd/utils/flags_rollup.go. The teacher's
// category constant lives in go-ethereum's internal/flags package, which
// an external module cannot import, so this command defines its own.
const harmonizeCategory = "HARMONIZE"

var configFlag = &cli.StringFlag{
	Name:     "config",
	Aliases:  []string{"c"},
	Usage:    "path to the engine's TOML configuration file",
	Required: true,
	Category: harmonizeCategory,
}

var mockOracleFlag = &cli.BoolFlag{
	Name:     "mock-oracle",
	Usage:    "use an in-process mock ECDSA oracle instead of a real threshold-signing endpoint (development only)",
	Category: harmonizeCategory,
}

func main() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, log.LevelInfo, true)))

	app := &cli.App{
		Name:  "harmonize",
		Usage: "cross-chain virtual-account engine",
		Flags: []cli.Flag{configFlag, mockOracleFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Crit("harmonize exited with error", "err", err)
	}
}

func run(cliCtx *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cliCtx.String(configFlag.Name))
	if err != nil {
		return err
	}

	if !cliCtx.Bool(mockOracleFlag.Name) {
		return fmt.Errorf("harmonize: no production ECDSA oracle transport is wired yet; pass --%s to run with an in-process mock", mockOracleFlag.Name)
	}
	oracle, err := ecdsaoracle.NewMock()
	if err != nil {
		return fmt.Errorf("harmonize: create mock oracle: %w", err)
	}
	log.Warn("Running with an in-process mock ECDSA oracle; this is not a real threshold-signing ceremony")

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = "harmonize.db"
	}
	persist, err := store.Open(storePath)
	if err != nil {
		return fmt.Errorf("harmonize: open store at %s: %w", storePath, err)
	}
	defer persist.Close()

	clients, closeClients := newClientFactory(cfg)
	defer closeClients()

	eng, err := engine.New(ctx, cfg.Owner, oracle, cfg.KeyID(), clients, persist, time.Duration(cfg.ScrapeIntervalSecs)*time.Second)
	if err != nil {
		return fmt.Errorf("harmonize: construct engine: %w", err)
	}

	for _, n := range cfg.Networks {
		if err := eng.ConfigureChain(types.ChainID(n.ChainID), n.Addresses(), n.BlockTagValue()); err != nil {
			return fmt.Errorf("harmonize: configure chain %d: %w", n.ChainID, err)
		}
		log.Info("Configured chain", "chain_id", n.ChainID, "endpoints", len(n.RPCEndpoints), "block_tag", n.BlockTag)
	}

	eng.RunScheduler(ctx)
	log.Info("harmonize started", "networks", len(cfg.Networks), "store", storePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("harmonize shutting down")
	eng.Stop()
	return nil
}

// newClientFactory dials the first configured RPC endpoint for each
// network once and serves it from a ClientFactory. A real deployment's
// multi-provider transport (spec §4.J) composes several dialed
// endpoints per chain and folds their results into a Result; wiring
// that transport is out of scope here, so each chain is served by a
// single upstream and every rpcmulti.Result it returns is trivially
// Consistent.
func newClientFactory(cfg *config.Config) (engine.ClientFactory, func()) {
	clients := make(map[types.ChainID]rpcmulti.Client)
	var mu sync.Mutex

	for _, n := range cfg.Networks {
		n := n
		if len(n.RPCEndpoints) == 0 {
			log.Warn("Chain has no configured RPC endpoints", "chain_id", n.ChainID)
			continue
		}
		client, err := rpcmulti.NewSingleProviderClient(context.Background(), n.RPCEndpoints[0])
		if err != nil {
			log.Error("Failed to dial RPC endpoint", "chain_id", n.ChainID, "endpoint", n.RPCEndpoints[0], "err", err)
			continue
		}
		clients[types.ChainID(n.ChainID)] = client
	}

	factory := func(chainID types.ChainID) rpcmulti.Client {
		mu.Lock()
		defer mu.Unlock()
		return clients[chainID]
	}
	closeAll := func() {}
	return factory, closeAll
}
