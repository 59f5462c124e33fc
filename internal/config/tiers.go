package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// TierSpec is one tier entry as written in the catalog file.
type TierSpec struct {
	ID              string   `mapstructure:"id"`
	DisplayName     string   `mapstructure:"displayName"`
	TokenGrant      int64    `mapstructure:"tokenGrant"`
	UnitPriceMinor  int64    `mapstructure:"unitPriceMinor"`
	BillingInterval string   `mapstructure:"billingInterval"`
	PriceIDs        []string `mapstructure:"priceIds"`
}

// DefaultTierSpecs is the catalog used when no catalog file is present.
func DefaultTierSpecs() []TierSpec {
	return []TierSpec{
		{
			ID:              "basic",
			DisplayName:     "Basic",
			TokenGrant:      15_000,
			UnitPriceMinor:  900,
			BillingInterval: "month",
			PriceIDs:        []string{"price_basic_monthly", "price_basic_yearly"},
		},
		{
			ID:              "pro",
			DisplayName:     "Pro",
			TokenGrant:      25_000,
			UnitPriceMinor:  1900,
			BillingInterval: "month",
			PriceIDs:        []string{"price_pro_monthly", "price_pro_yearly"},
		},
		{
			ID:              "team",
			DisplayName:     "Team",
			TokenGrant:      100_000,
			UnitPriceMinor:  4900,
			BillingInterval: "month",
			PriceIDs:        []string{"price_team_monthly", "price_team_yearly"},
		},
	}
}

// LoadTierSpecs reads the tier catalog file at path. A missing file yields the defaults.
func LoadTierSpecs(path string) ([]TierSpec, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultTierSpecs(), nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultTierSpecs(), nil
		}
		return nil, fmt.Errorf("stat tier catalog: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TOKENLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read tier catalog: %w", err)
	}

	var specs []TierSpec
	if err := v.UnmarshalKey("tiers", &specs); err != nil {
		return nil, fmt.Errorf("decode tier catalog: %w", err)
	}
	if len(specs) == 0 {
		return nil, errors.New("tier catalog is empty")
	}
	return specs, nil
}
