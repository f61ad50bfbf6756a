package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
)

// FakeWallet is an in-memory Client for tests and keyless local runs.
// Balances and allowances are plain maps; submitted transactions get
// deterministic hashes and succeed unless scripted otherwise.
type FakeWallet struct {
	Addr  string
	Chain int64

	mu         sync.Mutex
	balances   map[string]*big.Int // token -> balance of Addr
	allowances map[string]*big.Int // token -> allowance granted per spender
	receipts   map[string]Receipt

	// ReceiptFn, when set, overrides receipt lookup. Used to script
	// reverts and confirmation stalls.
	ReceiptFn func(ctx context.Context, txHash string) (Receipt, error)

	// Scripted submission failures.
	ApproveErr  error
	PayErr      error
	TransferErr error

	ApproveCalls  []FakeTx
	PayCalls      []FakeTx
	TransferCalls []FakeTx
}

// FakeTx records one submitted transaction.
type FakeTx struct {
	TxHash string
	Token  string
	To     string
	Ref    string
	Amount *big.Int
}

func NewFakeWallet(addr string, chain int64) *FakeWallet {
	return &FakeWallet{
		Addr:       addr,
		Chain:      chain,
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		receipts:   make(map[string]Receipt),
	}
}

func (f *FakeWallet) SetBalance(token string, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[token] = new(big.Int).Set(amount)
}

func (f *FakeWallet) SetAllowance(token, spender string, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[token+"/"+spender] = new(big.Int).Set(amount)
}

func (f *FakeWallet) Account() string { return f.Addr }
func (f *FakeWallet) ChainID() int64  { return f.Chain }

func (f *FakeWallet) BalanceOf(_ context.Context, token, account string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if account != f.Addr {
		return big.NewInt(0), nil
	}
	if bal, ok := f.balances[token]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (f *FakeWallet) Allowance(_ context.Context, token, owner, spender string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner != f.Addr {
		return big.NewInt(0), nil
	}
	if allowed, ok := f.allowances[token+"/"+spender]; ok {
		return new(big.Int).Set(allowed), nil
	}
	return big.NewInt(0), nil
}

func (f *FakeWallet) Approve(_ context.Context, token, spender string, amount *big.Int) (string, error) {
	if f.ApproveErr != nil {
		return "", f.ApproveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := fakeHash(fmt.Sprintf("approve:%s:%s:%s:%d", token, spender, amount, len(f.ApproveCalls)))
	f.ApproveCalls = append(f.ApproveCalls, FakeTx{TxHash: hash, Token: token, To: spender, Amount: new(big.Int).Set(amount)})
	f.allowances[token+"/"+spender] = new(big.Int).Set(amount)
	return hash, nil
}

func (f *FakeWallet) Pay(_ context.Context, amount *big.Int, ref string) (string, error) {
	if f.PayErr != nil {
		return "", f.PayErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := fakeHash(fmt.Sprintf("pay:%s:%s:%d", amount, ref, len(f.PayCalls)))
	f.PayCalls = append(f.PayCalls, FakeTx{TxHash: hash, Ref: ref, Amount: new(big.Int).Set(amount)})
	return hash, nil
}

func (f *FakeWallet) Transfer(_ context.Context, token, to string, amount *big.Int) (string, error) {
	if f.TransferErr != nil {
		return "", f.TransferErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := fakeHash(fmt.Sprintf("transfer:%s:%s:%s:%d", token, to, amount, len(f.TransferCalls)))
	f.TransferCalls = append(f.TransferCalls, FakeTx{TxHash: hash, Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return hash, nil
}

// SetReceipt scripts the receipt returned for a transaction hash.
func (f *FakeWallet) SetReceipt(txHash string, reverted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = Receipt{TxHash: txHash, Reverted: reverted, BlockNumber: 1}
}

func (f *FakeWallet) WaitForReceipt(ctx context.Context, txHash string) (Receipt, error) {
	if f.ReceiptFn != nil {
		return f.ReceiptFn(ctx, txHash)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if rcpt, ok := f.receipts[txHash]; ok {
		return rcpt, nil
	}
	// Unscripted transactions confirm immediately.
	return Receipt{TxHash: txHash, BlockNumber: 1}, nil
}

func (f *FakeWallet) Ping(context.Context) error { return nil }

func fakeHash(input string) string {
	sum := sha256.Sum256([]byte(input))
	return "0x" + hex.EncodeToString(sum[:])
}
