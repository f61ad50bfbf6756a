package catalog

import (
	"errors"
	"regexp"
	"strings"
)

// Intent is an immutable purchase request built from user selections.
// Price is the stablecoin-denominated cost as a decimal string.
type Intent struct {
	Country        string
	Operator       string
	OperatorID     string
	Amount         string
	Currency       string
	Price          string
	RecipientPhone string
	SenderPhone    string
	RecipientEmail string
}

var phonePattern = regexp.MustCompile(`^[0-9]{11}$`)

var (
	ErrCountryRequired  = errors.New("country is required")
	ErrOperatorRequired = errors.New("operator is required")
	ErrAmountRequired   = errors.New("an airtime amount must be selected")
	ErrPriceRequired    = errors.New("offer price is required")
	ErrInvalidPhone     = errors.New("phone number must be exactly 11 digits")
)

// Validate applies the input checks required before a purchase may be
// confirmed.
func (i Intent) Validate() error {
	if strings.TrimSpace(i.Country) == "" {
		return ErrCountryRequired
	}
	if strings.TrimSpace(i.Operator) == "" {
		return ErrOperatorRequired
	}
	if strings.TrimSpace(i.Amount) == "" || strings.TrimSpace(i.OperatorID) == "" {
		return ErrAmountRequired
	}
	if strings.TrimSpace(i.Price) == "" {
		return ErrPriceRequired
	}
	if !phonePattern.MatchString(i.RecipientPhone) {
		return ErrInvalidPhone
	}
	return nil
}

// BuildIntent resolves the user's selections against the catalog and
// returns a validated intent.
func BuildIntent(cat *Catalog, country, operator, amount, phone, senderPhone, email string) (Intent, error) {
	co, ok := cat.FindCountry(country)
	if !ok {
		return Intent{}, errors.New("unknown country: " + country)
	}
	offer, ok := co.FindOffer(operator, amount)
	if !ok {
		return Intent{}, errors.New("no matching airtime offer for " + operator + " " + amount)
	}

	intent := Intent{
		Country:        co.Name,
		Operator:       offer.NetworkOperator,
		OperatorID:     offer.OperatorID.String(),
		Amount:         offer.Amount.String(),
		Currency:       offer.Currency,
		Price:          offer.USDCValue.String(),
		RecipientPhone: phone,
		SenderPhone:    senderPhone,
		RecipientEmail: email,
	}
	if err := intent.Validate(); err != nil {
		return Intent{}, err
	}
	return intent, nil
}
