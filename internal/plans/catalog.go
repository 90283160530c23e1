package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

const (
	Seedling = "seedling"
	Sprout   = "sprout"
	Tree     = "tree"

	Weekly  = "weekly"
	Monthly = "monthly"
)

// PlanConfig is one subscription plan price as sold at checkout.
type PlanConfig struct {
	PlanType       string `json:"plan_type"`
	BillingCycle   string `json:"billing_cycle"`
	Currency       string `json:"currency"`
	Amount         int64  `json:"amount"`
	RazorpayPlanID string `json:"razorpay_plan_id"`
}

// DonationTier is a one-time donation price.
type DonationTier struct {
	PlanType string `json:"plan_type"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type PlansFile struct {
	Plans     []PlanConfig   `json:"plans"`
	Donations []DonationTier `json:"donations"`
}

// Catalog is the canonical plan-price configuration. A catalog with no
// entries still answers lookups from the built-in fallback tables.
type Catalog struct {
	mu        sync.RWMutex
	plans     map[string]*PlanConfig
	byPlanID  map[string]*PlanConfig
	donations map[string]*DonationTier
	currency  string
}

func NewCatalog(defaultCurrency string) *Catalog {
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}
	return &Catalog{
		plans:     make(map[string]*PlanConfig),
		byPlanID:  make(map[string]*PlanConfig),
		donations: make(map[string]*DonationTier),
		currency:  strings.ToUpper(defaultCurrency),
	}
}

func LoadFromFile(path, defaultCurrency string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var file PlansFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	catalog := NewCatalog(defaultCurrency)
	for i := range file.Plans {
		if err := catalog.Register(&file.Plans[i]); err != nil {
			return nil, err
		}
	}
	for i := range file.Donations {
		catalog.RegisterDonation(&file.Donations[i])
	}
	return catalog, nil
}

func (c *Catalog) Register(p *PlanConfig) error {
	planType := NormalizePlanType(p.PlanType)
	cycle := NormalizeBillingCycle(p.BillingCycle)
	if planType == "" || cycle == "" {
		return fmt.Errorf("invalid plan entry %q/%q", p.PlanType, p.BillingCycle)
	}
	p.PlanType = planType
	p.BillingCycle = cycle
	p.Currency = c.normalizeCurrency(p.Currency)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[planKey(planType, cycle, p.Currency)] = p
	if p.RazorpayPlanID != "" {
		c.byPlanID[p.RazorpayPlanID] = p
	}
	return nil
}

func (c *Catalog) RegisterDonation(d *DonationTier) {
	d.PlanType = NormalizePlanType(d.PlanType)
	d.Currency = c.normalizeCurrency(d.Currency)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.donations[planKey(d.PlanType, "", d.Currency)+fmt.Sprintf(":%d", d.Amount)] = d
}

// Price returns the configured price for a plan. The fallback table is not
// consulted here; see FallbackPrice.
func (c *Catalog) Price(planType, cycle, currency string) (int64, bool) {
	planType = NormalizePlanType(planType)
	cycle = NormalizeBillingCycle(cycle)
	if planType == "" || cycle == "" {
		return 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planKey(planType, cycle, c.normalizeCurrency(currency))]
	if !ok || p.Amount <= 0 {
		return 0, false
	}
	return p.Amount, true
}

// ByProviderPlanID resolves a Razorpay plan id to its catalog entry.
func (c *Catalog) ByProviderPlanID(planID string) *PlanConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byPlanID[planID]
}

// SubscriptionAmounts is every price a subscription charge can have.
func (c *Catalog) SubscriptionAmounts() map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, cycles := range fallbackSubscriptionPrices {
		for _, amount := range cycles {
			out[amount] = struct{}{}
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.plans {
		if p.Amount > 0 {
			out[p.Amount] = struct{}{}
		}
	}
	return out
}

// OneTimeAmounts is every price a one-time donation can have.
func (c *Catalog) OneTimeAmounts() map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, amount := range fallbackOneTimePrices {
		out[amount] = struct{}{}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.donations {
		if d.Amount > 0 {
			out[d.Amount] = struct{}{}
		}
	}
	return out
}

// IsSubscriptionOnlyAmount reports whether amount is sold as a subscription
// price and never as a one-time donation.
func (c *Catalog) IsSubscriptionOnlyAmount(amount int64) bool {
	if amount <= 0 {
		return false
	}
	if _, ok := c.SubscriptionAmounts()[amount]; !ok {
		return false
	}
	_, oneTime := c.OneTimeAmounts()[amount]
	return !oneTime
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans) + len(c.donations)
}

func (c *Catalog) DefaultCurrency() string {
	return c.currency
}

func (c *Catalog) normalizeCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return c.currency
	}
	return currency
}

func planKey(planType, cycle, currency string) string {
	return planType + ":" + cycle + ":" + currency
}
