package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogFixture = `{
  "countries": [
    {
      "name": "Nigeria",
      "services": {
        "airtime": [
          {"network_operator": "MTN", "operator_id": 341, "amount": 500, "currency": "NGN", "usdc_value": 0.33},
          {"network_operator": "MTN", "operator_id": 341, "amount": 1000, "currency": "NGN", "usdc_value": 0.66},
          {"network_operator": "Airtel", "operator_id": 342, "amount": 500, "currency": "NGN", "usdc_value": 0.33}
        ]
      }
    },
    {
      "name": "Kenya",
      "services": {
        "airtime": [
          {"network_operator": "Safaricom", "operator_id": "636", "amount": "100", "currency": "KES", "usdc_value": "0.78"}
        ]
      }
    }
  ]
}`

func fixtureServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services-data" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestFetchCatalog(t *testing.T) {
	srv := fixtureServer(t, catalogFixture, http.StatusOK)
	defer srv.Close()

	cat, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, cat.Countries, 2)

	ng, ok := cat.FindCountry("nigeria")
	require.True(t, ok)
	assert.Equal(t, "Nigeria", ng.Name)
	assert.Len(t, ng.Services.Airtime, 3)

	// Numeric and string JSON values both decode.
	ke, ok := cat.FindCountry("Kenya")
	require.True(t, ok)
	assert.Equal(t, "0.78", ke.Services.Airtime[0].USDCValue.String())
}

func TestFetchCatalogMalformed(t *testing.T) {
	srv := fixtureServer(t, `{"countries": []}`, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrMalformedCatalog)
}

func TestFetchCatalogBadStatus(t *testing.T) {
	srv := fixtureServer(t, `{}`, http.StatusBadGateway)
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	assert.Error(t, err)
}

func loadFixtureCatalog(t *testing.T) *Catalog {
	t.Helper()
	srv := fixtureServer(t, catalogFixture, http.StatusOK)
	defer srv.Close()
	cat, err := NewClient(srv.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	return cat
}

func TestBuildIntent(t *testing.T) {
	cat := loadFixtureCatalog(t)

	intent, err := BuildIntent(cat, "Nigeria", "MTN", "500", "08012345678", "08087654321", "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "Nigeria", intent.Country)
	assert.Equal(t, "MTN", intent.Operator)
	assert.Equal(t, "341", intent.OperatorID)
	assert.Equal(t, "500", intent.Amount)
	assert.Equal(t, "NGN", intent.Currency)
	assert.Equal(t, "0.33", intent.Price)
}

func TestBuildIntentUnknownSelections(t *testing.T) {
	cat := loadFixtureCatalog(t)

	_, err := BuildIntent(cat, "Ghana", "MTN", "500", "08012345678", "", "")
	assert.Error(t, err)

	_, err = BuildIntent(cat, "Nigeria", "Glo", "500", "08012345678", "", "")
	assert.Error(t, err)

	_, err = BuildIntent(cat, "Nigeria", "MTN", "750", "08012345678", "", "")
	assert.Error(t, err)
}

func TestIntentPhoneValidation(t *testing.T) {
	base := Intent{
		Country:    "Nigeria",
		Operator:   "MTN",
		OperatorID: "341",
		Amount:     "500",
		Currency:   "NGN",
		Price:      "0.33",
	}

	ten := base
	ten.RecipientPhone = "0801234567"
	assert.ErrorIs(t, ten.Validate(), ErrInvalidPhone)

	eleven := base
	eleven.RecipientPhone = "08012345678"
	assert.NoError(t, eleven.Validate())

	letters := base
	letters.RecipientPhone = "0801234567a"
	assert.ErrorIs(t, letters.Validate(), ErrInvalidPhone)

	twelve := base
	twelve.RecipientPhone = "080123456789"
	assert.ErrorIs(t, twelve.Validate(), ErrInvalidPhone)
}

func TestIntentValidateRequiredFields(t *testing.T) {
	intent := Intent{RecipientPhone: "08012345678"}
	assert.ErrorIs(t, intent.Validate(), ErrCountryRequired)

	intent.Country = "Nigeria"
	assert.ErrorIs(t, intent.Validate(), ErrOperatorRequired)

	intent.Operator = "MTN"
	assert.ErrorIs(t, intent.Validate(), ErrAmountRequired)

	intent.Amount = "500"
	intent.OperatorID = "341"
	assert.ErrorIs(t, intent.Validate(), ErrPriceRequired)

	intent.Price = "0.33"
	assert.NoError(t, intent.Validate())
}
