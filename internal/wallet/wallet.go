package wallet

import (
	"context"
	"math/big"
)

// Receipt is the terminal state of a submitted transaction.
type Receipt struct {
	TxHash      string
	Reverted    bool
	BlockNumber uint64
}

// Client abstracts the wallet and ledger interaction the payment flow
// needs: account identity, token reads, and transaction writes.
type Client interface {
	// Account returns the connected account address, or "" when no
	// session is established.
	Account() string
	// ChainID identifies the connected network.
	ChainID() int64

	BalanceOf(ctx context.Context, token, account string) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error)

	// Approve authorizes spender to move amount of token and returns the
	// transaction hash.
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error)
	// Pay invokes the topup contract's processing entry point.
	Pay(ctx context.Context, amount *big.Int, ref string) (string, error)
	// Transfer moves amount of token directly to the given address.
	Transfer(ctx context.Context, token, to string, amount *big.Int) (string, error)

	// WaitForReceipt blocks until the transaction's outcome is known or
	// the context expires.
	WaitForReceipt(ctx context.Context, txHash string) (Receipt, error)
}

// HealthChecker is implemented by clients that can check their RPC
// connection.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
