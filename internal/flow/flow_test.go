package flow_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airtopup/internal/catalog"
	"airtopup/internal/flow"
	"airtopup/internal/fulfillment"
	"airtopup/internal/wallet"
)

const (
	testChain    = int64(84532)
	testToken    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testContract = "0x1111111111111111111111111111111111111111"
	testAccount  = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
)

func testIntent() catalog.Intent {
	return catalog.Intent{
		Country:        "Nigeria",
		Operator:       "MTN",
		OperatorID:     "341",
		Amount:         "500",
		Currency:       "NGN",
		Price:          "0.33",
		RecipientPhone: "08012345678",
	}
}

func testConfig(mode flow.PaymentMode) flow.Config {
	return flow.Config{
		Tokens:              map[int64]string{testChain: testToken},
		TopupContract:       testContract,
		Mode:                mode,
		TokenSymbol:         "USDC",
		TokenDecimals:       6,
		ConfirmationTimeout: time.Second,
	}
}

type stubFulfiller struct {
	mu    sync.Mutex
	calls []fulfillment.TopupRequest
	resp  fulfillment.TopupResponse
	err   error
}

func (s *stubFulfiller) SendTopup(_ context.Context, req fulfillment.TopupRequest) (fulfillment.TopupResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return fulfillment.TopupResponse{}, s.err
	}
	return s.resp, nil
}

func usdc(decimal string) *big.Int {
	units, err := flow.ScaleToUnits(decimal, 6)
	if err != nil {
		panic(err)
	}
	return units
}

func TestSubmitApprovesThenPaysThenFulfills(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))

	var posted fulfillment.TopupRequest
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fulfillment.TopupResponse{Reference: "ref-123"})
	}))
	defer provider.Close()

	client := fulfillment.NewClient(provider.URL, time.Second)
	ctrl := flow.NewController(testConfig(flow.ModeContract), client, fulfillment.NewMemoryStore(), nil)

	outcome, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.NoError(t, err)

	require.Len(t, fw.ApproveCalls, 1)
	assert.Equal(t, testContract, fw.ApproveCalls[0].To)
	assert.Equal(t, usdc("0.33"), fw.ApproveCalls[0].Amount)

	require.Len(t, fw.PayCalls, 1)
	assert.Equal(t, usdc("0.33"), fw.PayCalls[0].Amount)
	assert.Empty(t, fw.TransferCalls)

	assert.Equal(t, fw.PayCalls[0].TxHash, outcome.TxHash)
	assert.Equal(t, "ref-123", outcome.Reference)
	assert.Equal(t, outcome.TxHash, posted.TxHash)
	assert.Equal(t, "341", posted.OperatorID)
	assert.Equal(t, "08012345678", posted.RecipientPhone)
}

func TestSubmitSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.SetAllowance(testToken, testContract, usdc("0.50"))

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(testConfig(flow.ModeContract), fulfill, nil, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.NoError(t, err)

	assert.Empty(t, fw.ApproveCalls)
	require.Len(t, fw.PayCalls, 1)
	assert.Len(t, fulfill.calls, 1)
}

func TestSubmitInsufficientFunds(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("0.10"))

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(testConfig(flow.ModeContract), fulfill, nil, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindInsufficientFunds, flow.KindOf(err))

	var fe *flow.Error
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "0.1 USDC")
	assert.Contains(t, fe.Message, "0.33 USDC")

	assert.Empty(t, fw.ApproveCalls)
	assert.Empty(t, fw.PayCalls)
	assert.Empty(t, fw.TransferCalls)
	assert.Empty(t, fulfill.calls)
}

func TestSubmitApprovalReverted(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.ReceiptFn = func(_ context.Context, txHash string) (wallet.Receipt, error) {
		if len(fw.ApproveCalls) > 0 && fw.ApproveCalls[0].TxHash == txHash {
			return wallet.Receipt{TxHash: txHash, Reverted: true}, nil
		}
		return wallet.Receipt{TxHash: txHash}, nil
	}

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(testConfig(flow.ModeContract), fulfill, nil, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindApprovalReverted, flow.KindOf(err))
	assert.Empty(t, fw.PayCalls)
	assert.Empty(t, fulfill.calls)
}

func TestSubmitTransferReverted(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.SetAllowance(testToken, testContract, usdc("1.00"))
	fw.ReceiptFn = func(_ context.Context, txHash string) (wallet.Receipt, error) {
		return wallet.Receipt{TxHash: txHash, Reverted: true}, nil
	}

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(testConfig(flow.ModeContract), fulfill, nil, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindTransferReverted, flow.KindOf(err))
	assert.Empty(t, fulfill.calls)
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.SetAllowance(testToken, testContract, usdc("1.00"))
	fw.ReceiptFn = func(ctx context.Context, _ string) (wallet.Receipt, error) {
		<-ctx.Done()
		return wallet.Receipt{}, ctx.Err()
	}

	cfg := testConfig(flow.ModeContract)
	cfg.ConfirmationTimeout = 50 * time.Millisecond

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(cfg, fulfill, nil, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindConfirmationTimeout, flow.KindOf(err))
	assert.Empty(t, fulfill.calls)
}

func TestSubmitFulfillmentFailureQueuesPending(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.SetAllowance(testToken, testContract, usdc("1.00"))

	fulfill := &stubFulfiller{err: &fulfillment.StatusError{StatusCode: 500, Message: "provider exploded"}}
	queue := fulfillment.NewMemoryStore()
	ctrl := flow.NewController(testConfig(flow.ModeContract), fulfill, queue, nil)

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindFulfillmentFailed, flow.KindOf(err))

	var fe *flow.Error
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "provider exploded")

	// The committed payment is preserved for later delivery.
	require.Len(t, fw.PayCalls, 1)
	rec, getErr := queue.Get(context.Background(), fw.PayCalls[0].TxHash)
	require.NoError(t, getErr)
	require.NotNil(t, rec)
	assert.Equal(t, fulfillment.StatusPending, rec.Status)
	assert.Equal(t, fw.PayCalls[0].TxHash, rec.Request.TxHash)
}

func TestSubmitDirectTransferMode(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	// No allowance granted. A direct transfer needs none, so the flow
	// must not try to approve one.

	fulfill := &stubFulfiller{}
	ctrl := flow.NewController(testConfig(flow.ModeTransfer), fulfill, nil, nil)

	outcome, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.NoError(t, err)

	assert.Empty(t, fw.ApproveCalls)
	assert.Empty(t, fw.PayCalls)
	require.Len(t, fw.TransferCalls, 1)
	assert.Equal(t, testToken, fw.TransferCalls[0].Token)
	assert.Equal(t, testContract, fw.TransferCalls[0].To)
	assert.Equal(t, fw.TransferCalls[0].TxHash, outcome.TxHash)
}

func TestSubmitRejectsInvalidPhone(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))

	intent := testIntent()
	intent.RecipientPhone = "0801234567" // 10 digits

	ctrl := flow.NewController(testConfig(flow.ModeContract), &stubFulfiller{}, nil, nil)
	_, err := ctrl.Submit(context.Background(), intent, fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindInvalidInput, flow.KindOf(err))
	assert.Empty(t, fw.PayCalls)
}

func TestSubmitUnsupportedChain(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, 1)
	fw.SetBalance(testToken, usdc("1.00"))

	ctrl := flow.NewController(testConfig(flow.ModeContract), &stubFulfiller{}, nil, nil)
	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.Error(t, err)
	assert.Equal(t, flow.KindWalletUnavailable, flow.KindOf(err))
}

func TestSubmitNoWalletSession(t *testing.T) {
	ctrl := flow.NewController(testConfig(flow.ModeContract), &stubFulfiller{}, nil, nil)
	_, err := ctrl.Submit(context.Background(), testIntent(), nil)
	require.Error(t, err)
	assert.Equal(t, flow.KindWalletUnavailable, flow.KindOf(err))
}

func TestSubmitSingleFlight(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))
	fw.SetAllowance(testToken, testContract, usdc("1.00"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fw.ReceiptFn = func(_ context.Context, txHash string) (wallet.Receipt, error) {
		once.Do(func() { close(entered) })
		<-release
		return wallet.Receipt{TxHash: txHash}, nil
	}

	ctrl := flow.NewController(testConfig(flow.ModeContract), &stubFulfiller{}, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := ctrl.Submit(context.Background(), testIntent(), fw)
		done <- err
	}()

	<-entered
	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	assert.True(t, errors.Is(err, flow.ErrSubmissionInFlight))

	close(release)
	require.NoError(t, <-done)
}

func TestStateListenerObservesTransitions(t *testing.T) {
	fw := wallet.NewFakeWallet(testAccount, testChain)
	fw.SetBalance(testToken, usdc("1.00"))

	var states []flow.State
	ctrl := flow.NewController(testConfig(flow.ModeContract), &stubFulfiller{}, nil, nil)
	ctrl.SetStateListener(func(s flow.State) { states = append(states, s) })

	_, err := ctrl.Submit(context.Background(), testIntent(), fw)
	require.NoError(t, err)

	assert.Equal(t, []flow.State{
		flow.StateValidatingInput,
		flow.StateEnsuringWallet,
		flow.StateCheckingBalance,
		flow.StateCheckingAllowance,
		flow.StateApproving,
		flow.StateTransferring,
		flow.StateAwaitingFinality,
		flow.StateRequestingFulfillment,
		flow.StateSucceeded,
		flow.StateIdle,
	}, states)
}
