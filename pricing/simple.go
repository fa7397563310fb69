package pricing

import (
	"math"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/models"
)

// Simple prices a session from a flat energy tariff: every consumption
// interval is priced by its Wh share, totals accumulate on the transaction.
type Simple struct {
	priceKwh float64
	currency string
	logger   internal.LogHandler
}

func NewSimple(conf *config.Config) *Simple {
	return &Simple{
		priceKwh: conf.Pricing.PriceKwh,
		currency: conf.Pricing.Currency,
	}
}

func (p *Simple) SetLogger(logger internal.LogHandler) {
	p.logger = logger
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (p *Simple) Price(action string, transaction *models.Transaction, consumption *models.Consumption) error {
	if consumption != nil {
		amount := consumption.ConsumptionWh / 1000 * p.priceKwh
		consumption.Amount = amount
		consumption.RoundedAmount = round2(amount)
		consumption.PricingSource = models.PricingSourceSimple
		consumption.CurrencyCode = p.currency

		transaction.Price += amount
		consumption.CumulatedAmount = round2(transaction.Price)
	}
	transaction.RoundedPrice = round2(transaction.Price)
	transaction.PriceUnit = p.currency
	transaction.PricingSource = models.PricingSourceSimple

	if action == internal.ActionStop && transaction.Stop != nil {
		transaction.Stop.Price = transaction.Price
		transaction.Stop.RoundedPrice = transaction.RoundedPrice
		transaction.Stop.PriceUnit = transaction.PriceUnit
		transaction.Stop.PricingSource = transaction.PricingSource
	}
	return nil
}
