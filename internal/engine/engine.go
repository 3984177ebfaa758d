// Package engine wires the scraper, ledger, withdrawal pipeline and
// persistence layer into the single aggregate described in spec §2 and
// §5. All mutating operations take Engine's mutex, the idiomatic Go
// substitute for the source's single-threaded actor: exactly one
// mutation is ever in flight, and it never holds the lock across an
// external call (RPC, signer) — those run before the lock is taken or
// after it is released, matching the "exclusive between suspension
// points" discipline spec §5 requires. Local cursor storage reads and
// writes do run with the lock held.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/chain-fusion/harmonize/internal/chainstate"
	"github.com/chain-fusion/harmonize/internal/ecdsaoracle"
	"github.com/chain-fusion/harmonize/internal/events"
	"github.com/chain-fusion/harmonize/internal/guard"
	"github.com/chain-fusion/harmonize/internal/ledger"
	"github.com/chain-fusion/harmonize/internal/rpcmulti"
	"github.com/chain-fusion/harmonize/internal/scraper"
	"github.com/chain-fusion/harmonize/internal/store"
	"github.com/chain-fusion/harmonize/internal/txsigner"
	"github.com/chain-fusion/harmonize/internal/types"
	"github.com/chain-fusion/harmonize/internal/withdraw"
)

// ErrAccessDenied is returned by owner-gated operations when the caller
// is not the configured owner.
var ErrAccessDenied = errors.New("engine: caller is not the owner")

// AccessControl is the external wallet-link/authorization collaborator
// (spec §1 "the SIWE-style wallet-linking challenge/signature flow" is an
// external collaborator; SPEC_FULL §4.4). It is not implemented here —
// only this narrow boundary is kept so withdraw/transfer call sites have
// somewhere to plug in caller authorization, matching the source's
// access_control.rs module boundary.
type AccessControl interface {
	// Authorize reports whether caller is permitted to act on behalf of
	// user, e.g. because caller's linked wallet has been verified via the
	// (out of scope) SIWE-style challenge/response flow.
	Authorize(ctx context.Context, caller, user types.UserID) error
}

// ScrapeInterval is the default recurring scrape period (spec §4.I).
const ScrapeInterval = 30 * time.Second

// firstScrapeDelay is how long after startup the first scrape of every
// chain runs (spec §4.I).
const firstScrapeDelay = 10 * time.Second

// ClientFactory resolves the multi-provider RPC façade for a chain.
// Engine never dials an endpoint itself; that is the factory's job, so
// Engine stays independent of any one transport implementation.
type ClientFactory func(chain types.ChainID) rpcmulti.Client

// NetworkPatch is a partial ChainState update for SetNetworkConfig
// (spec §6). Nil fields are left unchanged.
type NetworkPatch struct {
	EndpointAddresses []common.Address
	BlockTag          *chainstate.BlockTag
}

// Engine is the process-wide aggregate: chain cursors, the ledger, and
// everything needed to scrape, decode, credit and withdraw.
type Engine struct {
	mu sync.Mutex

	owner  string
	ledger *ledger.Ledger
	chains map[types.ChainID]*chainstate.ChainState

	clients  ClientFactory
	signer   *txsigner.Signer
	pipeline *withdraw.Pipeline
	guards   *guard.Set
	persist  *store.Store

	scrapeInterval time.Duration
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// New constructs an Engine: fetches the oracle's public key (spec §4.I
// "Immediately after init"), derives the engine's EVM address, and
// loads any durable cursor state for each configured chain.
func New(ctx context.Context, owner string, oracle ecdsaoracle.Oracle, keyID ecdsaoracle.KeyID, clients ClientFactory, persist *store.Store, scrapeInterval time.Duration) (*Engine, error) {
	signer, err := txsigner.New(ctx, oracle, keyID, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch ECDSA public key: %w", err)
	}
	log.Info("Engine ECDSA public key loaded", "address", signer.Address())

	l := ledger.New()
	if scrapeInterval == 0 {
		scrapeInterval = ScrapeInterval
	}

	e := &Engine{
		owner:          owner,
		ledger:         l,
		chains:         make(map[types.ChainID]*chainstate.ChainState),
		clients:        clients,
		signer:         signer,
		guards:         guard.NewSet(),
		persist:        persist,
		scrapeInterval: scrapeInterval,
		stopCh:         make(chan struct{}),
	}
	e.pipeline = &withdraw.Pipeline{Ledger: l, Signer: signer}
	return e, nil
}

// ConfigureChain creates (or replaces) a chain's state from a full
// initial configuration, loading any persisted cursor over it (spec §6
// "set_network_config ... creates if full init").
func (e *Engine) ConfigureChain(chainID types.ChainID, endpoints []common.Address, tag chainstate.BlockTag) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := chainstate.New(chainID, endpoints, tag, 0)
	if e.persist != nil {
		if err := e.persist.LoadChainCursor(cs); err != nil {
			return fmt.Errorf("engine: load persisted cursor for chain %d: %w", chainID, err)
		}
	}
	e.chains[chainID] = cs
	return nil
}

// SetOwner replaces the configured owner. Owner-only (spec §6).
func (e *Engine) SetOwner(caller, newOwner string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrAccessDenied
	}
	e.owner = newOwner
	return nil
}

// SetNetworkConfig applies patch to chainID's configuration, creating
// the chain if it does not yet exist (spec §6). Owner-only.
func (e *Engine) SetNetworkConfig(caller string, chainID types.ChainID, patch NetworkPatch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrAccessDenied
	}

	cs, ok := e.chains[chainID]
	if !ok {
		tag := chainstate.Latest
		if patch.BlockTag != nil {
			tag = *patch.BlockTag
		}
		cs = chainstate.New(chainID, patch.EndpointAddresses, tag, 0)
		e.chains[chainID] = cs
		return nil
	}
	if patch.EndpointAddresses != nil {
		cs.EndpointAddresses = patch.EndpointAddresses
	}
	if patch.BlockTag != nil {
		cs.BlockTag = *patch.BlockTag
	}
	return nil
}

// GetEndpointAddress returns the first configured watch-address for
// chainID (spec §6).
func (e *Engine) GetEndpointAddress(chainID types.ChainID) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.chains[chainID]
	if !ok || len(cs.EndpointAddresses) == 0 {
		return common.Address{}, fmt.Errorf("engine: no endpoint address configured for chain %d", chainID)
	}
	return cs.EndpointAddresses[0], nil
}

// DepositAddress returns the engine's EVM address — the on-chain
// deposit endpoint users send funds to — derived from the signer's
// cached public key (spec §4.F; SPEC_FULL §4.3, source
// state.rs::get_deposit_address).
func (e *Engine) DepositAddress() common.Address {
	return e.signer.Address()
}

// GetLastProcessedBlock returns chainID's processed-cursor.
func (e *Engine) GetLastProcessedBlock(chainID types.ChainID) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.chains[chainID]
	if !ok {
		return 0, fmt.Errorf("engine: chain %d not configured", chainID)
	}
	return cs.LastProcessedBlock, nil
}

// GetNativeBalance returns user's native balance on chainID.
func (e *Engine) GetNativeBalance(user types.UserID, chainID types.ChainID) types.Amount {
	return e.ledger.BalanceNative(user, chainID)
}

// GetErc20Balance returns user's ERC-20 balance on chainID for token.
func (e *Engine) GetErc20Balance(user types.UserID, chainID types.ChainID, token types.TokenAddress) types.Amount {
	return e.ledger.BalanceErc20(user, ledger.Erc20Key{Group: chainID, Key: token})
}

// TransferNative moves amount from one user's internal native balance to
// another's, at zero on-chain cost.
func (e *Engine) TransferNative(from, to types.UserID, chainID types.ChainID, amount types.Amount) error {
	return e.ledger.TransferNative(from, to, chainID, amount)
}

// TransferErc20 moves amount of token from one user's internal balance
// to another's, at zero on-chain cost.
func (e *Engine) TransferErc20(from, to types.UserID, chainID types.ChainID, token types.TokenAddress, amount types.Amount) error {
	return e.ledger.TransferErc20(from, to, ledger.Erc20Key{Group: chainID, Key: token}, amount)
}

// Withdraw runs the on-chain withdrawal pipeline for req (spec §4.H),
// guarded so only one withdrawal per chain runs at a time to keep the
// per-chain nonce coherent. Each call is tagged with a fresh correlation
// id so its progress can be followed across the escrow/sign/submit/
// reconcile steps in the logs.
func (e *Engine) Withdraw(ctx context.Context, req withdraw.Request) error {
	requestID := uuid.NewString()
	log.Info("Withdrawal requested", "request_id", requestID, "chain", req.ChainID, "user", req.User, "kind", req.Kind)

	g, err := e.guards.Acquire(fmt.Sprintf("withdraw:%d", req.ChainID))
	if err != nil {
		log.Warn("Withdrawal rejected", "request_id", requestID, "err", err)
		return err
	}
	defer g.Release()

	e.mu.Lock()
	cs, ok := e.chains[req.ChainID]
	client := e.clientFor(req.ChainID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: chain %d not configured", req.ChainID)
	}
	if client == nil {
		return fmt.Errorf("engine: no RPC client for chain %d", req.ChainID)
	}

	if err := e.pipeline.Execute(ctx, client, cs, req); err != nil {
		log.Error("Withdrawal failed", "request_id", requestID, "err", err)
		return err
	}
	log.Info("Withdrawal settled", "request_id", requestID)
	return nil
}

func (e *Engine) clientFor(chainID types.ChainID) rpcmulti.Client {
	if e.clients == nil {
		return nil
	}
	return e.clients(chainID)
}

// ScrapeLogs runs one scrape pass for chainID, guarded against overlap
// with any other concurrent scrape of the same chain (spec §4.I).
func (e *Engine) ScrapeLogs(ctx context.Context, chainID types.ChainID) error {
	g, err := e.guards.Acquire(fmt.Sprintf("scrape:%d", chainID))
	if err != nil {
		return err
	}
	defer g.Release()

	e.mu.Lock()
	cs, ok := e.chains[chainID]
	client := e.clientFor(chainID)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("engine: chain %d not configured", chainID)
	}
	if client == nil {
		return fmt.Errorf("engine: no RPC client for chain %d", chainID)
	}

	scraper.Scrape(ctx, client, cs)

	if e.persist != nil {
		e.mu.Lock()
		e.persist.SaveChainCursor(cs)
		e.mu.Unlock()
	}
	return nil
}

// ProcessLogs decodes and applies every queued log for chainID to the
// ledger, guarded against overlap with any other concurrent processing
// pass for the same chain (spec §4.I). Decode failures are logged and
// the log dropped; the cursor still advances past it (spec §7).
func (e *Engine) ProcessLogs(ctx context.Context, chainID types.ChainID) error {
	g, err := e.guards.Acquire(fmt.Sprintf("process:%d", chainID))
	if err != nil {
		return err
	}
	defer g.Release()

	e.mu.Lock()
	defer e.mu.Unlock()

	cs, ok := e.chains[chainID]
	if !ok {
		return fmt.Errorf("engine: chain %d not configured", chainID)
	}

	for _, pending := range cs.PendingInOrder() {
		ev, err := events.Decode(pending.Entry)
		if err != nil {
			log.Warn("Dropping undecodable deposit log", "chain", chainID, "source", pending.Source, "err", err)
			cs.RecordProcessedLog(pending.Source)
			continue
		}
		if err := e.applyEvent(chainID, ev); err != nil {
			log.Error("Failed to apply deposit event", "chain", chainID, "source", pending.Source, "err", err)
			continue
		}
		cs.RecordProcessedLog(pending.Source)
		if pending.Entry.BlockNumber > cs.LastProcessedBlock {
			cs.LastProcessedBlock = pending.Entry.BlockNumber
		}
	}

	if e.persist != nil {
		e.persist.SaveChainCursor(cs)
	}
	return nil
}

func (e *Engine) applyEvent(chainID types.ChainID, ev events.Event) error {
	switch ev.Kind {
	case events.DepositNative:
		_, err := e.ledger.CreditNative(ev.User, chainID, ev.Amount)
		return err
	case events.DepositErc20:
		_, err := e.ledger.CreditErc20(ev.User, ledger.Erc20Key{Group: chainID, Key: ev.Token}, ev.Amount)
		return err
	default:
		return fmt.Errorf("engine: unknown event kind %v", ev.Kind)
	}
}

// ChainIDs returns every currently configured chain, for the scheduler
// to iterate over.
func (e *Engine) ChainIDs() []types.ChainID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.ChainID, 0, len(e.chains))
	for id := range e.chains {
		out = append(out, id)
	}
	return out
}

// RunScheduler starts the periodic scrape/process loop (spec §4.I): the
// first scrape of every chain fires firstScrapeDelay after startup, then
// every chain is scraped and processed in sequence every scrapeInterval.
// It returns immediately; call Stop to end the loop.
func (e *Engine) RunScheduler(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(firstScrapeDelay)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-timer.C:
				e.scrapeAndProcessAllChains(ctx)
				timer.Reset(e.scrapeInterval)
			}
		}
	}()
}

func (e *Engine) scrapeAndProcessAllChains(ctx context.Context) {
	for _, chainID := range e.ChainIDs() {
		if err := e.ScrapeLogs(ctx, chainID); err != nil {
			log.Warn("Scrape failed", "chain", chainID, "err", err)
			continue
		}
		if err := e.ProcessLogs(ctx, chainID); err != nil {
			log.Warn("Log processing failed", "chain", chainID, "err", err)
		}
	}
}

// Stop ends the scheduler loop and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}
