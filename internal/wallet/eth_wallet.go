package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthWallet is a key-backed Client over a JSON-RPC endpoint.
type EthWallet struct {
	client    *ethclient.Client
	erc20ABI  abi.ABI
	topup     *bind.BoundContract
	topupAddr common.Address
	account   common.Address
	chainID   *big.Int
	transacts *bind.TransactOpts
}

type EthWalletConfig struct {
	RPCURL        string
	PrivateKeyHex string
	TopupContract string
}

func NewEthWallet(ctx context.Context, cfg EthWalletConfig) (*EthWallet, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.TopupContract == "" {
		return nil, fmt.Errorf("topup contract address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for submitting payments")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	topupABI, err := abi.JSON(strings.NewReader(topupABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse topup abi: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	topupAddr := common.HexToAddress(cfg.TopupContract)
	return &EthWallet{
		client:    cli,
		erc20ABI:  erc20,
		topup:     bind.NewBoundContract(topupAddr, topupABI, cli, cli, cli),
		topupAddr: topupAddr,
		account:   crypto.PubkeyToAddress(pk.PublicKey),
		chainID:   chainID,
		transacts: txOpts,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (w *EthWallet) Account() string {
	return w.account.Hex()
}

func (w *EthWallet) ChainID() int64 {
	return w.chainID.Int64()
}

func (w *EthWallet) token(address string) *bind.BoundContract {
	addr := common.HexToAddress(address)
	return bind.NewBoundContract(addr, w.erc20ABI, w.client, w.client, w.client)
}

func (w *EthWallet) BalanceOf(ctx context.Context, token, account string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(account) {
		return nil, fmt.Errorf("invalid address")
	}
	var out []interface{}
	err := w.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", common.HexToAddress(account))
	if err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (w *EthWallet) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	if !common.IsHexAddress(token) || !common.IsHexAddress(owner) || !common.IsHexAddress(spender) {
		return nil, fmt.Errorf("invalid address")
	}
	var out []interface{}
	err := w.token(token).Call(&bind.CallOpts{Context: ctx}, &out, "allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("allowance: %w", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (w *EthWallet) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, error) {
	opts := *w.transacts
	opts.Context = ctx

	tx, err := w.token(token).Transact(&opts, "approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", fmt.Errorf("approve tx: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (w *EthWallet) Pay(ctx context.Context, amount *big.Int, ref string) (string, error) {
	opts := *w.transacts
	opts.Context = ctx

	tx, err := w.topup.Transact(&opts, "pay", amount, toBytes32(ref))
	if err != nil {
		return "", fmt.Errorf("pay tx: %w", err)
	}
	return tx.Hash().Hex(), nil
}

func (w *EthWallet) Transfer(ctx context.Context, token, to string, amount *big.Int) (string, error) {
	opts := *w.transacts
	opts.Context = ctx

	tx, err := w.token(token).Transact(&opts, "transfer", common.HexToAddress(to), amount)
	if err != nil {
		return "", fmt.Errorf("transfer tx: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// WaitForReceipt polls until the transaction is mined or the context is
// cancelled.
func (w *EthWallet) WaitForReceipt(ctx context.Context, txHash string) (Receipt, error) {
	hash := common.HexToHash(txHash)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return Receipt{
				TxHash:      txHash,
				Reverted:    receipt.Status == types.ReceiptStatusFailed,
				BlockNumber: receipt.BlockNumber.Uint64(),
			}, nil
		}
		if err != nil && err.Error() != "not found" {
			return Receipt{}, err
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *EthWallet) Ping(ctx context.Context) error {
	if w.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := w.client.BlockNumber(ctx)
	return err
}

// PaymentRef derives a deterministic bytes32 reference for a payment.
func PaymentRef(account, operatorID, phone string, amount *big.Int) string {
	return crypto.Keccak256Hash(
		common.HexToAddress(account).Bytes(),
		common.LeftPadBytes(amount.Bytes(), 32),
		[]byte(operatorID),
		[]byte(phone),
	).Hex()
}

func toBytes32(value string) [32]byte {
	var out [32]byte
	if strings.HasPrefix(value, "0x") {
		copy(out[:], common.FromHex(value))
		return out
	}
	copy(out[:], []byte(value))
	return out
}
