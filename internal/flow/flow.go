package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"airtopup/internal/catalog"
	"airtopup/internal/fulfillment"
	"airtopup/internal/wallet"
)

// State is the controller's externally observable position in the
// payment flow.
type State string

const (
	StateIdle                  State = "idle"
	StateValidatingInput       State = "validating_input"
	StateEnsuringWallet        State = "ensuring_wallet_connected"
	StateCheckingBalance       State = "checking_balance"
	StateCheckingAllowance     State = "checking_allowance"
	StateApproving             State = "approving"
	StateTransferring          State = "transferring"
	StateAwaitingFinality      State = "awaiting_finality"
	StateRequestingFulfillment State = "requesting_fulfillment"
	StateSucceeded             State = "succeeded"
	StateFailed                State = "failed"
)

// PaymentMode selects the value-moving call.
type PaymentMode string

const (
	// ModeContract calls the topup contract's pay entry point, which
	// pulls the approved amount. Canonical path.
	ModeContract PaymentMode = "contract"
	// ModeTransfer sends the stablecoin straight to the contract
	// address.
	ModeTransfer PaymentMode = "transfer"
)

// Fulfiller issues the off-chain top-up once payment has confirmed.
type Fulfiller interface {
	SendTopup(ctx context.Context, req fulfillment.TopupRequest) (fulfillment.TopupResponse, error)
}

// Config carries the chain- and token-level settings the flow needs.
type Config struct {
	// Tokens maps a chain id to the stablecoin contract accepted there.
	Tokens        map[int64]string
	TopupContract string
	Mode          PaymentMode
	TokenSymbol   string
	TokenDecimals int
	// ConfirmationTimeout bounds the finality wait on the payment
	// transaction. The approval wait is unbounded.
	ConfirmationTimeout time.Duration
}

// Outcome is a successful submission result.
type Outcome struct {
	TxHash    string
	Reference string
}

// Attempt is the transient record of one in-flight submission.
type Attempt struct {
	ID             string
	Required       *big.Int
	Balance        *big.Int
	Allowance      *big.Int
	ApprovalTxHash string
	PaymentTxHash  string
}

// Controller runs the sequential payment flow: balance check, allowance
// check, approve when short, pay, await finality, then the fulfillment
// call. One submission at a time.
type Controller struct {
	cfg      Config
	fulfill  Fulfiller
	queue    fulfillment.Store
	onState  func(State)
	inFlight atomic.Bool
}

// NewController wires the flow. queue may be nil to disable the
// pending-fulfillment fallback; onState may be nil.
func NewController(cfg Config, fulfill Fulfiller, queue fulfillment.Store, onState func(State)) *Controller {
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.TokenSymbol == "" {
		cfg.TokenSymbol = "USDC"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeContract
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 60 * time.Second
	}
	return &Controller{cfg: cfg, fulfill: fulfill, queue: queue, onState: onState}
}

// SetStateListener registers the observer notified on every state
// transition. Call before the first Submit.
func (c *Controller) SetStateListener(fn func(State)) {
	c.onState = fn
}

func (c *Controller) setState(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

// Submit runs one payment attempt to completion. It returns the
// confirmed transaction hash and fulfillment reference, or a classified
// *Error. A fulfillment failure after the payment confirmed still
// reports failure; the committed payment is preserved in the pending
// queue for later delivery.
func (c *Controller) Submit(ctx context.Context, intent catalog.Intent, session wallet.Client) (Outcome, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)
	defer c.setState(StateIdle)

	outcome, err := c.run(ctx, intent, session)
	if err != nil {
		c.setState(StateFailed)
		return Outcome{}, err
	}
	c.setState(StateSucceeded)
	return outcome, nil
}

func (c *Controller) run(ctx context.Context, intent catalog.Intent, session wallet.Client) (Outcome, error) {
	c.setState(StateValidatingInput)
	if err := intent.Validate(); err != nil {
		return Outcome{}, failf(KindInvalidInput, err, err.Error())
	}

	c.setState(StateEnsuringWallet)
	if session == nil || session.Account() == "" {
		return Outcome{}, failf(KindWalletUnavailable, nil, "no wallet session could be established")
	}
	account := session.Account()
	token, ok := c.cfg.Tokens[session.ChainID()]
	if !ok {
		return Outcome{}, failf(KindWalletUnavailable, nil,
			fmt.Sprintf("no %s deployment is known for chain %d", c.cfg.TokenSymbol, session.ChainID()))
	}

	required, err := ScaleToUnits(intent.Price, c.cfg.TokenDecimals)
	if err != nil {
		return Outcome{}, failf(KindInvalidInput, err, "invalid offer price: "+intent.Price)
	}

	attempt := &Attempt{ID: uuid.NewString(), Required: required}

	c.setState(StateCheckingBalance)
	balance, err := session.BalanceOf(ctx, token, account)
	if err != nil {
		return Outcome{}, failf(KindUnknownTransaction, err, "balance check failed: "+err.Error())
	}
	attempt.Balance = balance
	if balance.Cmp(required) < 0 {
		return Outcome{}, failf(KindInsufficientFunds, nil, fmt.Sprintf(
			"your balance of %s %s is below the %s %s required for this purchase",
			FormatUnits(balance, c.cfg.TokenDecimals), c.cfg.TokenSymbol,
			FormatUnits(required, c.cfg.TokenDecimals), c.cfg.TokenSymbol))
	}

	// A direct ERC-20 transfer spends no allowance, so the approval
	// dance only applies when paying through the top-up contract.
	if c.cfg.Mode != ModeTransfer {
		c.setState(StateCheckingAllowance)
		allowance, err := session.Allowance(ctx, token, account, c.cfg.TopupContract)
		if err != nil {
			return Outcome{}, failf(KindUnknownTransaction, err, "allowance check failed: "+err.Error())
		}
		attempt.Allowance = allowance

		if allowance.Cmp(required) < 0 {
			c.setState(StateApproving)
			if err := c.approve(ctx, session, token, required, attempt); err != nil {
				return Outcome{}, err
			}
		}
	}

	c.setState(StateTransferring)
	txHash, err := c.pay(ctx, session, token, required, intent, account)
	if err != nil {
		return Outcome{}, err
	}
	attempt.PaymentTxHash = txHash

	// Once the payment transaction is on the network the attempt can no
	// longer be cancelled, only awaited to completion or timeout.
	c.setState(StateAwaitingFinality)
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.ConfirmationTimeout)
	defer cancel()
	receipt, err := session.WaitForReceipt(waitCtx, txHash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{}, failf(KindConfirmationTimeout, err, fmt.Sprintf(
				"transaction %s was not confirmed within %s; its outcome is unknown", txHash, c.cfg.ConfirmationTimeout))
		}
		return Outcome{}, failf(KindUnknownTransaction, err, "confirmation failed: "+err.Error())
	}
	if receipt.Reverted {
		return Outcome{}, failf(KindTransferReverted, nil, "payment transaction "+txHash+" reverted")
	}

	c.setState(StateRequestingFulfillment)
	req := fulfillment.TopupRequest{
		OperatorID:     intent.OperatorID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		RecipientPhone: intent.RecipientPhone,
		SenderPhone:    intent.SenderPhone,
		RecipientEmail: intent.RecipientEmail,
		TxHash:         txHash,
	}
	resp, err := c.fulfill.SendTopup(context.WithoutCancel(ctx), req)
	if err != nil {
		c.enqueuePending(req, err)
		return Outcome{}, failf(KindFulfillmentFailed, err,
			"payment "+txHash+" is confirmed but the top-up could not be requested: "+err.Error())
	}

	reference := resp.Reference
	if reference == "" {
		reference = attempt.ID
	}
	return Outcome{TxHash: txHash, Reference: reference}, nil
}

func (c *Controller) approve(ctx context.Context, session wallet.Client, token string, required *big.Int, attempt *Attempt) error {
	txHash, err := session.Approve(ctx, token, c.cfg.TopupContract, required)
	if err != nil {
		return failf(KindUnknownTransaction, err, "approval failed: "+err.Error())
	}
	attempt.ApprovalTxHash = txHash

	// The approval is on the network; see it through regardless of the
	// caller's cancellation.
	receipt, err := session.WaitForReceipt(context.WithoutCancel(ctx), txHash)
	if err != nil {
		return failf(KindUnknownTransaction, err, "approval confirmation failed: "+err.Error())
	}
	if receipt.Reverted {
		return failf(KindApprovalReverted, nil, "approval transaction "+txHash+" reverted")
	}
	return nil
}

func (c *Controller) pay(ctx context.Context, session wallet.Client, token string, required *big.Int, intent catalog.Intent, account string) (string, error) {
	var txHash string
	var err error
	switch c.cfg.Mode {
	case ModeTransfer:
		txHash, err = session.Transfer(ctx, token, c.cfg.TopupContract, required)
	default:
		ref := wallet.PaymentRef(account, intent.OperatorID, intent.RecipientPhone, required)
		txHash, err = session.Pay(ctx, required, ref)
	}
	if err != nil {
		return "", failf(KindUnknownTransaction, err, "payment submission failed: "+err.Error())
	}
	return txHash, nil
}

// enqueuePending records a confirmed-but-unfulfilled payment so the
// retry worker can deliver it later. Best effort; the attempt already
// reports failure either way.
func (c *Controller) enqueuePending(req fulfillment.TopupRequest, sendErr error) {
	if c.queue == nil {
		return
	}
	rec := fulfillment.Record{
		TxHash:    req.TxHash,
		Request:   req,
		Status:    fulfillment.StatusPending,
		Attempts:  1,
		LastError: sendErr.Error(),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.queue.Save(ctx, rec); err != nil {
		log.Printf("pending queue save error for %s: %v", req.TxHash, err)
	}
}
