package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Catalog is the country/operator/offer tree served by the provider.
type Catalog struct {
	Countries []Country `json:"countries"`
}

type Country struct {
	Name     string   `json:"name"`
	Services Services `json:"services"`
}

type Services struct {
	Airtime []Offer `json:"airtime"`
}

// Offer is one purchasable airtime denomination.
type Offer struct {
	NetworkOperator string      `json:"network_operator"`
	OperatorID      json.Number `json:"operator_id"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	USDCValue       json.Number `json:"usdc_value"`
}

var ErrMalformedCatalog = errors.New("catalog response has no countries")

// Client fetches the services catalog from the provider.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Fetch(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services-data", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch catalog: unexpected status %d", resp.StatusCode)
	}

	var cat Catalog
	if err := json.NewDecoder(resp.Body).Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(cat.Countries) == 0 {
		return nil, ErrMalformedCatalog
	}
	return &cat, nil
}

// FindCountry returns the named country, matched case-insensitively.
func (c *Catalog) FindCountry(name string) (Country, bool) {
	for _, country := range c.Countries {
		if strings.EqualFold(country.Name, name) {
			return country, true
		}
	}
	return Country{}, false
}

// FindOffer locates an airtime offer by operator name and face-value amount.
func (co Country) FindOffer(operator, amount string) (Offer, bool) {
	for _, offer := range co.Services.Airtime {
		if strings.EqualFold(offer.NetworkOperator, operator) && offer.Amount.String() == amount {
			return offer, true
		}
	}
	return Offer{}, false
}
