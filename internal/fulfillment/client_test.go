package fulfillment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() TopupRequest {
	return TopupRequest{
		OperatorID:     "341",
		Amount:         "500",
		Currency:       "NGN",
		RecipientPhone: "08012345678",
		TxHash:         "0xabc",
	}
}

func TestSendTopup(t *testing.T) {
	var got TopupRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send-topup", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(TopupResponse{Reference: "ref-9", Message: "queued"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, time.Second).SendTopup(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "ref-9", resp.Reference)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Equal(t, "341", got.OperatorID)
}

func TestSendTopupPropagatesErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "operator rejected the recipient"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).SendTopup(context.Background(), testRequest())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "operator rejected the recipient", se.Message)
}

func TestSendTopupStatusErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).SendTopup(context.Background(), testRequest())
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Error(), "500")
}
