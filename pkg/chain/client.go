// Package chain wraps go-ethereum's JSON-RPC client with the ordered,
// multi-endpoint failover behavior the wallet manager and strategy
// tick loop need: every call tries endpoints in configured order and
// moves to the next one whenever the call on the current one returns
// an error, whatever its cause.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"vaultcore/internal/vaulterr"
)

// EndpointStatus is one RPC endpoint's most recent health snapshot.
type EndpointStatus struct {
	URL     string        `json:"url"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// FeeSuggestion is the pre-flight EIP-1559 fee estimate returned to
// callers before they commit to a transfer.
type FeeSuggestion struct {
	BaseFeeWei        *big.Int
	SuggestedTipWei   *big.Int
	SuggestedCapWei   *big.Int
	SampledBlockCount int
}

// Client is a failover-aware wrapper over one or more Ethereum JSON-RPC
// endpoints, all assumed to serve the same chain.
type Client struct {
	chainID        int64
	callTimeout    time.Duration
	feePercentile  int
	receiptTimeout time.Duration

	mu        sync.Mutex
	endpoints []string
	conns     map[string]*ethclient.Client
}

// New dials every configured endpoint eagerly so a dead endpoint is
// known before the first real call needs failover.
func New(endpoints []string, chainID int64, callTimeout, receiptTimeout time.Duration, feePercentile int) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain: at least one RPC endpoint is required")
	}
	c := &Client{
		chainID:        chainID,
		callTimeout:    callTimeout,
		receiptTimeout: receiptTimeout,
		feePercentile:  feePercentile,
		endpoints:      endpoints,
		conns:          make(map[string]*ethclient.Client, len(endpoints)),
	}
	var lastErr error
	dialed := 0
	for _, url := range endpoints {
		conn, err := ethclient.Dial(url)
		if err != nil {
			lastErr = err
			continue
		}
		c.conns[url] = conn
		dialed++
	}
	if dialed == 0 {
		return nil, vaulterr.Wrap(vaulterr.ChainUnreachable, "no configured RPC endpoint could be dialed", lastErr)
	}
	return c, nil
}

// withFailover runs fn against each live endpoint connection in
// configured order, returning the first success. It mirrors the
// teacher's concurrent-health-check philosophy (try every endpoint)
// but sequentially, since these calls carry side effects like
// broadcast that must not be issued twice.
func (c *Client) withFailover(ctx context.Context, fn func(context.Context, *ethclient.Client) error) error {
	c.mu.Lock()
	endpoints := append([]string(nil), c.endpoints...)
	c.mu.Unlock()

	var lastErr error
	for _, url := range endpoints {
		conn, ok := c.conns[url]
		if !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err := fn(callCtx, conn)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no reachable endpoint")
	}
	return vaulterr.Wrap(vaulterr.ChainUnreachable, "all configured RPC endpoints failed", lastErr)
}

// HealthCheck reports connectivity for every configured endpoint via
// a concurrent fan-out, one goroutine per endpoint.
func (c *Client) HealthCheck(ctx context.Context) []EndpointStatus {
	c.mu.Lock()
	endpoints := append([]string(nil), c.endpoints...)
	c.mu.Unlock()

	var wg sync.WaitGroup
	resultCh := make(chan EndpointStatus, len(endpoints))
	for _, url := range endpoints {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			start := time.Now()
			conn, ok := c.conns[url]
			if !ok {
				resultCh <- EndpointStatus{URL: url, OK: false, Error: "dial failed at startup"}
				return
			}
			checkCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			_, err := conn.BlockNumber(checkCtx)
			latency := time.Since(start)
			if err != nil {
				resultCh <- EndpointStatus{URL: url, OK: false, Latency: latency, Error: err.Error()}
				return
			}
			resultCh <- EndpointStatus{URL: url, OK: true, Latency: latency}
		}(url)
	}
	wg.Wait()
	close(resultCh)

	results := make([]EndpointStatus, 0, len(endpoints))
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

// Connected reports whether at least one configured endpoint is
// currently reachable.
func (c *Client) Connected(ctx context.Context) bool {
	for _, status := range c.HealthCheck(ctx) {
		if status.OK {
			return true
		}
	}
	return false
}

// ChainID returns the configured chain id, used for EIP-155 signer
// construction without an extra round trip.
func (c *Client) ChainID() *big.Int {
	return big.NewInt(c.chainID)
}

// Balance returns the native balance of addr at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		bal, err := conn.BalanceAt(cctx, addr, nil)
		if err != nil {
			return err
		}
		out = bal
		return nil
	})
	return out, err
}

// PendingNonce returns the next nonce to use for addr, including
// pending (mempool) transactions.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var out uint64
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		nonce, err := conn.PendingNonceAt(cctx, addr)
		if err != nil {
			return err
		}
		out = nonce
		return nil
	})
	return out, err
}

// EstimateGas estimates gas units for the given call, surfacing an
// RPC-side rejection (e.g. would-revert) as RPCRejected rather than a
// generic transport failure.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var out uint64
	rejectErr := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		gas, err := conn.EstimateGas(cctx, msg)
		if err != nil {
			return err
		}
		out = gas
		return nil
	})
	if rejectErr != nil && vaulterr.KindOf(rejectErr) == vaulterr.ChainUnreachable {
		// A single endpoint's eth_estimateGas usually fails identically
		// on every endpoint when the call itself would revert, so
		// surface it as a call rejection rather than connectivity loss.
		return 0, vaulterr.Wrap(vaulterr.RPCRejected, "gas estimation rejected by node", rejectErr)
	}
	return out, rejectErr
}

// FeeSuggestion computes a base fee and priority fee suggestion. The
// base fee is the configured percentile (P50 by default) of the base
// fees of the last sampleBlocks blocks (10 by default); the priority
// fee is the node's own eth_maxPriorityFeePerGas suggestion and is not
// taken from a percentile of recent blocks. The fee cap is twice that
// base fee plus the tip.
func (c *Client) FeeSuggestion(ctx context.Context, sampleBlocks int) (*FeeSuggestion, error) {
	if sampleBlocks <= 0 {
		sampleBlocks = 10
	}
	var out *FeeSuggestion
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		head, err := conn.HeaderByNumber(cctx, nil)
		if err != nil {
			return err
		}
		tips := make([]*big.Int, 0, sampleBlocks)
		var latestBaseFee *big.Int
		for i := 0; i < sampleBlocks; i++ {
			blockNum := new(big.Int).Sub(head.Number, big.NewInt(int64(i)))
			if blockNum.Sign() < 0 {
				break
			}
			header, err := conn.HeaderByNumber(cctx, blockNum)
			if err != nil {
				return err
			}
			if header.BaseFee != nil {
				if latestBaseFee == nil {
					latestBaseFee = header.BaseFee
				}
				tips = append(tips, header.BaseFee)
			}
		}
		if latestBaseFee == nil {
			return fmt.Errorf("no EIP-1559 base fee data available")
		}
		percentileBaseFee := percentileOf(tips, c.feePercentile)
		suggestedTip, err := conn.SuggestGasTipCap(cctx)
		if err != nil {
			return err
		}
		gasCap := new(big.Int).Add(new(big.Int).Mul(percentileBaseFee, big.NewInt(2)), suggestedTip)
		out = &FeeSuggestion{
			BaseFeeWei:        percentileBaseFee,
			SuggestedTipWei:   suggestedTip,
			SuggestedCapWei:   gasCap,
			SampledBlockCount: len(tips),
		}
		return nil
	})
	return out, err
}

// CodeAt returns the bytecode deployed at addr, or an empty slice for
// an externally-owned account.
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var out []byte
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		code, err := conn.CodeAt(cctx, addr, nil)
		if err != nil {
			return err
		}
		out = code
		return nil
	})
	return out, err
}

// CallContract executes a read-only contract call against the latest
// block.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		result, err := conn.CallContract(cctx, msg, nil)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

// SendRaw broadcasts a signed transaction and returns its hash,
// surfacing a rejection at broadcast time (bad nonce, underpriced,
// would-revert) as RPCRejected rather than a generic transport
// failure.
func (c *Client) SendRaw(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
		return conn.SendTransaction(cctx, tx)
	})
	if err != nil {
		if vaulterr.KindOf(err) == vaulterr.ChainUnreachable {
			return common.Hash{}, vaulterr.Wrap(vaulterr.RPCRejected, "broadcast rejected by node", err)
		}
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// WaitReceipt polls for a transaction receipt until it appears or the
// configured receipt timeout elapses.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(c.receiptTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := c.withFailover(ctx, func(cctx context.Context, conn *ethclient.Client) error {
			r, err := conn.TransactionReceipt(cctx, hash)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, vaulterr.New(vaulterr.ChainUnreachable, "timed out waiting for transaction receipt")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func percentileOf(values []*big.Int, percentile int) *big.Int {
	if len(values) == 0 {
		return big.NewInt(0)
	}
	sorted := append([]*big.Int(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	idx := (percentile * (len(sorted) - 1)) / 100
	return sorted[idx]
}
