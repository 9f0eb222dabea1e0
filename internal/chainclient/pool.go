// Package chainclient is the Chain Client Pool: one reusable RPC handle
// per chain, wrapping go-ethereum's ethclient and the minimal
// FeesCollected ABI.
package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/lifi-labs/fee-ingestion-engine/internal/apperrors"
	"github.com/lifi-labs/fee-ingestion-engine/internal/resilience"
)

// feesCollectedABIJSON is the minimal ABI for the single event the engine
// tracks: FeesCollected(address indexed token, address indexed
// integrator, uint256 integratorFee, uint256 lifiFee).
const feesCollectedABIJSON = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true,  "name": "token",         "type": "address"},
		{"indexed": true,  "name": "integrator",    "type": "address"},
		{"indexed": false, "name": "integratorFee",  "type": "uint256"},
		{"indexed": false, "name": "lifiFee",        "type": "uint256"}
	],
	"name": "FeesCollected",
	"type": "event"
}]`

var (
	feesCollectedABI   abi.ABI
	feesCollectedTopic common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(feesCollectedABIJSON))
	if err != nil {
		panic(fmt.Sprintf("chainclient: parse embedded ABI: %v", err))
	}
	feesCollectedABI = parsed
	feesCollectedTopic = crypto.Keccak256Hash([]byte("FeesCollected(address,address,uint256,uint256)"))
}

// DecodedLog is the canonical shape a raw log decodes to.
type DecodedLog struct {
	Token         string
	Integrator    string
	IntegratorFee string
	LifiFee       string
}

// handle is the per-chain reusable RPC client.
type handle struct {
	rpcURL          string
	contractAddress string
	client          *ethclient.Client
	limiter         *rate.Limiter
}

// Pool is the Chain Client Pool: a mutex-guarded map from chainId to
// handle.
type Pool struct {
	mu      sync.RWMutex
	handles map[int64]*handle
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{handles: make(map[int64]*handle)}
}

// Ensure is idempotent: it dials rpcURL only if chainID has no handle
// yet, or if rpcURL/contractAddress differ from the existing one. A
// health probe must succeed before the new handle replaces the old one.
func (p *Pool) Ensure(ctx context.Context, chainID int64, rpcURL, contractAddress string) error {
	contractAddress = strings.ToLower(contractAddress)

	p.mu.RLock()
	existing := p.handles[chainID]
	p.mu.RUnlock()

	if existing != nil && existing.rpcURL == rpcURL && existing.contractAddress == contractAddress {
		return nil
	}

	if err := Probe(ctx, rpcURL); err != nil {
		return err
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return apperrors.NewRPCUnavailable(chainID, err)
	}

	h := &handle{
		rpcURL:          rpcURL,
		contractAddress: contractAddress,
		client:          client,
		limiter:         rate.NewLimiter(rate.Limit(20), 20),
	}

	p.mu.Lock()
	if existing != nil {
		existing.client.Close()
	}
	p.handles[chainID] = h
	p.mu.Unlock()
	return nil
}

// Drop releases chainID's handle. A missing handle is a no-op.
func (p *Pool) Drop(chainID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[chainID]; ok {
		h.client.Close()
		delete(p.handles, chainID)
	}
}

func (p *Pool) get(chainID int64) (*handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handles[chainID]
	if !ok {
		return nil, apperrors.New(apperrors.InternalError, "no client handle for chain").WithDetail("chain_id", chainID)
	}
	return h, nil
}

// LatestBlock fetches the chain's current block height, retrying up to
// retryAttempts times with a fixed baseDelay pause.
func (p *Pool) LatestBlock(ctx context.Context, chainID int64, retryAttempts int, baseDelay time.Duration) (int64, error) {
	h, err := p.get(chainID)
	if err != nil {
		return 0, err
	}

	var latest uint64
	retryErr := resilience.Retry(ctx, resilience.FixedRetryConfig{MaxAttempts: retryAttempts, Delay: baseDelay}, func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		n, err := h.client.BlockNumber(ctx)
		if err != nil {
			return err
		}
		latest = n
		return nil
	})
	if retryErr != nil {
		return 0, apperrors.NewRPCUnavailable(chainID, retryErr)
	}
	return int64(latest), nil
}

// QueryLogs returns every FeesCollected log in the inclusive range
// [fromBlock, toBlock].
func (p *Pool) QueryLogs(ctx context.Context, chainID, fromBlock, toBlock int64, retryAttempts int, baseDelay time.Duration) ([]types.Log, error) {
	h, err := p.get(chainID)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		FromBlock: big.NewInt(fromBlock),
		ToBlock:   big.NewInt(toBlock),
		Addresses: []common.Address{common.HexToAddress(h.contractAddress)},
		Topics:    [][]common.Hash{{feesCollectedTopic}},
	}

	var logs []types.Log
	retryErr := resilience.Retry(ctx, resilience.FixedRetryConfig{MaxAttempts: retryAttempts, Delay: baseDelay}, func() error {
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		result, err := h.client.FilterLogs(ctx, query)
		if err != nil {
			return err
		}
		logs = result
		return nil
	})
	if retryErr != nil {
		return nil, apperrors.NewRPCUnavailable(chainID, retryErr)
	}
	return logs, nil
}

// Decode translates a raw log into the canonical (token, integrator,
// integratorFee, lifiFee) shape.
func Decode(chainID int64, raw types.Log) (*DecodedLog, error) {
	if len(raw.Topics) != 3 || raw.Topics[0] != feesCollectedTopic {
		return nil, apperrors.NewDecodeError(chainID, fmt.Errorf("unexpected topic shape"))
	}

	var out struct {
		IntegratorFee *big.Int
		LifiFee       *big.Int
	}
	if err := feesCollectedABI.UnpackIntoInterface(&out, "FeesCollected", raw.Data); err != nil {
		return nil, apperrors.NewDecodeError(chainID, err)
	}

	token := common.HexToAddress(raw.Topics[1].Hex())
	integrator := common.HexToAddress(raw.Topics[2].Hex())

	return &DecodedLog{
		Token:         strings.ToLower(token.Hex()),
		Integrator:    strings.ToLower(integrator.Hex()),
		IntegratorFee: out.IntegratorFee.String(),
		LifiFee:       out.LifiFee.String(),
	}, nil
}

// BlockTimestamp fetches a single block's timestamp.
func (p *Pool) BlockTimestamp(ctx context.Context, chainID, blockNumber int64) (time.Time, error) {
	h, err := p.get(chainID)
	if err != nil {
		return time.Time{}, err
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return time.Time{}, err
	}
	header, err := h.client.HeaderByNumber(ctx, big.NewInt(blockNumber))
	if err != nil {
		return time.Time{}, apperrors.NewRPCUnavailable(chainID, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

// Probe succeeds iff a throwaway client can fetch the current block
// number. Never retried.
func Probe(ctx context.Context, rpcURL string) error {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return apperrors.Wrap(apperrors.RPCUnavailable, "probe dial failed", err)
	}
	defer client.Close()

	if _, err := client.BlockNumber(ctx); err != nil {
		return apperrors.Wrap(apperrors.RPCUnavailable, "probe failed", err)
	}
	return nil
}
