package tier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/tokenledger/internal/config"
)

var (
	ErrInvalidTier      = errors.New("invalid_tier")
	ErrDuplicateTier    = errors.New("duplicate_tier")
	ErrDuplicatePriceID = errors.New("duplicate_price_id")
	ErrEmptyCatalog     = errors.New("empty_tier_catalog")
	ErrInvalidGrant     = errors.New("invalid_token_grant")
	ErrInvalidUnitPrice = errors.New("invalid_unit_price")
	ErrInvalidInterval  = errors.New("invalid_billing_interval")
)

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

// TierDefinition describes a subscription level and the tokens it grants per billing cycle.
type TierDefinition struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	TokenGrant      int64    `json:"tokenGrant"`
	UnitPriceMinor  int64    `json:"unitPriceMinor"`
	BillingInterval string   `json:"billingInterval"`
	PriceIDs        []string `json:"priceIds"`
}

// Catalog is an immutable lookup of tiers by tier id and by provider price id.
type Catalog struct {
	order   []string
	byID    map[string]TierDefinition
	byPrice map[string]string
}

// NewCatalog validates defs and builds the lookup tables.
func NewCatalog(defs []TierDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{
		order:   make([]string, 0, len(defs)),
		byID:    make(map[string]TierDefinition, len(defs)),
		byPrice: make(map[string]string),
	}
	for _, def := range defs {
		def.ID = strings.TrimSpace(def.ID)
		def.BillingInterval = strings.ToLower(strings.TrimSpace(def.BillingInterval))
		switch {
		case def.ID == "":
			return nil, ErrInvalidTier
		case def.TokenGrant <= 0:
			return nil, fmt.Errorf("%w: %s", ErrInvalidGrant, def.ID)
		case def.UnitPriceMinor < 0:
			return nil, fmt.Errorf("%w: %s", ErrInvalidUnitPrice, def.ID)
		case def.BillingInterval != IntervalMonth && def.BillingInterval != IntervalYear:
			return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, def.ID)
		}
		if _, exists := c.byID[def.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTier, def.ID)
		}

		priceIDs := make([]string, 0, len(def.PriceIDs))
		for _, priceID := range def.PriceIDs {
			priceID = strings.TrimSpace(priceID)
			if priceID == "" {
				continue
			}
			if owner, exists := c.byPrice[priceID]; exists {
				return nil, fmt.Errorf("%w: %s used by %s and %s", ErrDuplicatePriceID, priceID, owner, def.ID)
			}
			c.byPrice[priceID] = def.ID
			priceIDs = append(priceIDs, priceID)
		}
		def.PriceIDs = priceIDs

		c.byID[def.ID] = def
		c.order = append(c.order, def.ID)
	}
	return c, nil
}

// NewCatalogFromConfig builds the catalog from the tier catalog file.
func NewCatalogFromConfig(cfg config.Config) (*Catalog, error) {
	specs, err := config.LoadTierSpecs(cfg.TierCatalogPath)
	if err != nil {
		return nil, err
	}
	defs := make([]TierDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, TierDefinition{
			ID:              spec.ID,
			DisplayName:     spec.DisplayName,
			TokenGrant:      spec.TokenGrant,
			UnitPriceMinor:  spec.UnitPriceMinor,
			BillingInterval: spec.BillingInterval,
			PriceIDs:        spec.PriceIDs,
		})
	}
	return NewCatalog(defs)
}

func (c *Catalog) ByID(tierID string) (TierDefinition, bool) {
	def, ok := c.byID[strings.TrimSpace(tierID)]
	return copyDef(def), ok
}

// ByPriceID resolves a provider price id. Several price ids may map to one tier.
func (c *Catalog) ByPriceID(priceID string) (TierDefinition, bool) {
	tierID, ok := c.byPrice[strings.TrimSpace(priceID)]
	if !ok {
		return TierDefinition{}, false
	}
	return c.ByID(tierID)
}

// Grant returns the per-cycle token grant of tierID.
func (c *Catalog) Grant(tierID string) (int64, bool) {
	def, ok := c.byID[strings.TrimSpace(tierID)]
	if !ok {
		return 0, false
	}
	return def.TokenGrant, true
}

// List returns the tiers in declaration order.
func (c *Catalog) List() []TierDefinition {
	out := make([]TierDefinition, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, copyDef(c.byID[id]))
	}
	return out
}

func copyDef(def TierDefinition) TierDefinition {
	if def.PriceIDs != nil {
		def.PriceIDs = append([]string(nil), def.PriceIDs...)
	}
	return def
}
