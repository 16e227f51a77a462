// Package ledger implements the oracle Ledger over the job escrow contract.
package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Ratio1/edge-node-sub002/internal/identity"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/circuit"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
	"github.com/Ratio1/edge-node-sub002/pkg/retry"
)

var _ oracle.Ledger = (*Client)(nil)

// Config holds the ledger connection settings
type Config struct {
	RPCURL        string
	Contract      string
	Key           *identity.Key
	SubmitTimeout time.Duration
}

// Client calls the escrow contract. Reads are retried; transactions are not,
// the next coordination tick submits again.
type Client struct {
	rpc           *ethclient.Client
	contract      *bind.BoundContract
	waiter        bind.DeployBackend
	auth          *bind.TransactOpts
	submitTimeout time.Duration
	breaker       *circuit.Breaker
	readRetry     *retry.Config
	logger        *log.Logger
}

// Dial connects to the RPC endpoint and binds the contract
func Dial(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.Contract) {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_dial", "invalid contract address").
			WithContext("contract", cfg.Contract)
	}
	if cfg.Key == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "ledger_dial", "signing key is required")
	}

	rpc, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "ledger_dial", "failed to connect to RPC endpoint")
	}

	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "ledger_dial", "failed to get chain id")
	}

	auth, err := bind.NewKeyedTransactorWithChainID(cfg.Key.Private(), chainID)
	if err != nil {
		rpc.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeLedger, "ledger_dial", "failed to create transactor")
	}

	c, err := newClient(common.HexToAddress(cfg.Contract), rpc, rpc, auth, logger)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.rpc = rpc
	if cfg.SubmitTimeout > 0 {
		c.submitTimeout = cfg.SubmitTimeout
	}

	c.logger.Info("connected to ledger",
		"chain_id", chainID.String(),
		"contract", cfg.Contract,
		"signer", auth.From.Hex(),
	)
	return c, nil
}

func newClient(address common.Address, caller bind.ContractBackend, waiter bind.DeployBackend, auth *bind.TransactOpts, logger *log.Logger) (*Client, error) {
	parsed, err := ParsedABI()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "ledger_abi", "failed to parse contract ABI")
	}
	if logger == nil {
		logger = log.Nop()
	}

	return &Client{
		contract:      bind.NewBoundContract(address, parsed, caller, caller, caller),
		waiter:        waiter,
		auth:          auth,
		submitTimeout: 60 * time.Second,
		breaker: circuit.New(&circuit.Config{
			Name:            "ledger",
			MaxFailures:     5,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		readRetry: retry.LedgerReadConfig(),
		logger:    logger.WithComponent("ledger"),
	}, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	if c.rpc != nil {
		c.rpc.Close()
	}
}

// UnvalidatedJobIDs returns the jobs oracle still has to confirm
func (c *Client) UnvalidatedJobIDs(ctx context.Context, oracleAddr string) ([]string, error) {
	if !common.IsHexAddress(oracleAddr) {
		return nil, errors.New(errors.ErrorTypeValidation, MethodGetUnvalidatedJobIDs, "invalid oracle address").
			WithContext("oracle", oracleAddr)
	}

	out, err := c.call(ctx, MethodGetUnvalidatedJobIDs, common.HexToAddress(oracleAddr))
	if err != nil {
		return nil, err
	}

	ids := *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	jobIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		jobIDs = append(jobIDs, FormatJobID(id))
	}
	return jobIDs, nil
}

// SubmitNodeUpdate confirms the sorted chain addresses running jobID
func (c *Client) SubmitNodeUpdate(ctx context.Context, jobID string, nodes []string) error {
	id, err := ParseJobID(jobID)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, MethodSubmitNodeUpdate, "invalid job id")
	}

	addrs := make([]common.Address, 0, len(nodes))
	for _, node := range nodes {
		if !common.IsHexAddress(node) {
			return errors.New(errors.ErrorTypeValidation, MethodSubmitNodeUpdate, "invalid node address").
				WithContext("node", node)
		}
		addrs = append(addrs, common.HexToAddress(node))
	}

	return c.transact(ctx, MethodSubmitNodeUpdate, id, addrs)
}

// IsLastEpochAllocated reports whether rewards of the last epoch are allocated
func (c *Client) IsLastEpochAllocated(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, MethodIsLastEpochAllocated)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// AllocateRewardsAcrossAllEscrows allocates the last epoch's rewards
func (c *Client) AllocateRewardsAcrossAllEscrows(ctx context.Context) error {
	return c.transact(ctx, MethodAllocateRewards)
}

// FirstClosableJobID returns the first job that can be closed. The contract
// reports none as zero.
func (c *Client) FirstClosableJobID(ctx context.Context) (string, bool, error) {
	out, err := c.call(ctx, MethodGetFirstClosableJobID)
	if err != nil {
		return "", false, err
	}

	id := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if id == nil || id.Sign() == 0 {
		return "", false, nil
	}
	return FormatJobID(id), true, nil
}

// NodeAddressToEthAddress maps a native node address to its chain address
func (c *Client) NodeAddressToEthAddress(native string) (string, error) {
	return identity.EthAddress(native)
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	return retry.DoWithResult(ctx, c.readRetry, func() ([]any, error) {
		return circuit.ExecuteWithResult(ctx, c.breaker, func() ([]any, error) {
			var out []any
			if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeLedger, method, "contract call failed")
			}
			if len(out) == 0 {
				return nil, errors.New(errors.ErrorTypeLedger, method, "empty contract response")
			}
			return out, nil
		})
	})
}

func (c *Client) transact(ctx context.Context, method string, args ...any) error {
	start := time.Now()

	err := c.breaker.Execute(ctx, func() error {
		opts := *c.auth
		opts.Context = ctx

		tx, err := c.contract.Transact(&opts, method, args...)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeLedger, method, "failed to send transaction")
		}

		waitCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
		receipt, err := bind.WaitMined(waitCtx, c.waiter, tx)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeTimeout, method, "transaction not mined").
				WithContext("tx", tx.Hash().Hex())
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return errors.New(errors.ErrorTypeLedger, method, "transaction reverted").
				WithContext("tx", tx.Hash().Hex())
		}

		c.logger.Info("transaction mined",
			"method", method,
			"tx", tx.Hash().Hex(),
			"block", receipt.BlockNumber.String(),
			"gas_used", receipt.GasUsed,
		)
		return nil
	})

	c.logger.LogDuration(method, time.Since(start))
	if err != nil {
		return fmt.Errorf("ledger %s: %w", method, err)
	}
	return nil
}
