// Package scraper implements the per-chain log-scraping pipeline (spec
// §4.B): incremental discovery of finalized blocks, bounded-range log
// fetches with adaptive narrowing on oversized responses, and enqueuing
// of discovered logs for later decode/application.
package scraper

import (
	"context"

	"github.com/chain-fusion/harmonize/internal/chainstate"
	"github.com/chain-fusion/harmonize/internal/rpcmulti"
)

// MaxSpread is the largest inclusive block range requested per
// eth_getLogs call before adaptive narrowing kicks in.
const MaxSpread = 500

// blockTagArg maps a chainstate.BlockTag to the integer tag the RPC
// façade expects; the façade itself owns the wire-level mapping to
// "latest"/"safe"/"finalized".
func blockTagArg(tag chainstate.BlockTag) int { return int(tag) }

// Scrape performs one single-shot scraping pass for chain, advancing
// its cursors in place. It returns no error: an inconsistent result or a
// provider error other than response-too-large ends the pass with the
// scraped cursor where the last successful range left it, and the next
// scheduled call retries.
func Scrape(ctx context.Context, client rpcmulti.Client, chain *chainstate.ChainState) {
	refreshObservedBlock(ctx, client, chain)

	from := chain.LastScrapedBlock + 1
	target := chain.LastObservedBlock
	if from > target {
		return
	}

	to := min64(from+MaxSpread, target)
	for from <= target {
		advanced, newTo := scrapeRange(ctx, client, chain, from, to)
		if !advanced {
			// Inconsistent result or RPC error: abort this whole scrape
			// attempt, cursor untouched, retried on the next scheduled call.
			return
		}
		from = newTo + 1
		to = min64(from+MaxSpread, target)
	}
}

// refreshObservedBlock updates LastObservedBlock from the provider. A
// failed call is not fatal: the scraper proceeds with the previous
// value (spec §4.B step 1).
func refreshObservedBlock(ctx context.Context, client rpcmulti.Client, chain *chainstate.ChainState) {
	result := client.LatestBlockNumber(ctx, chain.ChainID, blockTagArg(chain.BlockTag))
	if !result.Consistent || result.Err != nil {
		return
	}
	chain.LastObservedBlock = result.Value
}

// scrapeRange fetches logs for [from, to], narrowing on oversized
// responses, and reports whether the scrape should continue (false on an
// inconsistent multi-provider result or on any RPC error other than
// response-too-large) along with the new cursor position to resume from.
func scrapeRange(ctx context.Context, client rpcmulti.Client, chain *chainstate.ChainState, from, to uint64) (bool, uint64) {
	for {
		result := client.GetLogs(ctx, chain.ChainID, chain.EndpointAddresses, from, to)

		if !result.Consistent {
			return false, chain.LastScrapedBlock
		}

		if result.Err != nil {
			if rpcmulti.IsResponseTooLarge(result.Err) {
				if to == from {
					// A single block's logs exceed the provider limit
					// even alone; skip it and move on (spec §4.B step 3).
					chain.RecordSkippedBlock(from)
					chain.LastScrapedBlock = from
					return true, from
				}
				to = from + (to-from)/2
				continue
			}
			// Any other RPC error is retriable; leave cursor untouched
			// and let the caller's next scheduled invocation retry.
			return false, chain.LastScrapedBlock
		}

		for _, entry := range result.Value {
			source := chainstate.LogSource{TxHash: entry.TxHash, LogIndex: entry.LogIndex}
			if chain.IsProcessed(source) {
				continue
			}
			chain.RecordLogToProcess(source, entry)
		}
		chain.LastScrapedBlock = to
		return true, to
	}
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
