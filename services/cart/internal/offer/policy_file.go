package offer

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Tiers []struct {
		MinTotal     string `yaml:"min_total"`
		Type         string `yaml:"type"`
		Value        string `yaml:"value"`
		FreeShipping bool   `yaml:"free_shipping"`
	} `yaml:"tiers"`
}

// LoadPolicyFile reads a tier table from YAML:
//
//	tiers:
//	  - {min_total: "200", type: percentage, value: "15"}
//	  - {min_total: "0", type: free_shipping, free_shipping: true}
func LoadPolicyFile(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read offer policy: %w", err)
	}
	return ParsePolicy(raw)
}

func ParsePolicy(raw []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Policy{}, fmt.Errorf("decode offer policy: %w", err)
	}

	p := Policy{Tiers: make([]Tier, 0, len(f.Tiers))}
	for i, t := range f.Tiers {
		minTotal, err := decimalOrZero(t.MinTotal)
		if err != nil {
			return Policy{}, fmt.Errorf("offer tier %d min_total: %w", i, err)
		}
		value, err := decimalOrZero(t.Value)
		if err != nil {
			return Policy{}, fmt.Errorf("offer tier %d value: %w", i, err)
		}
		p.Tiers = append(p.Tiers, Tier{
			MinTotal:     minTotal,
			Type:         Type(t.Type),
			Value:        value,
			FreeShipping: t.FreeShipping,
		})
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
