package policy

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/reliefgrid/treasury/fund"
)

// Tables holds the runtime-replaceable policy tables: the per-disaster-type
// funding multipliers and optional per-type recipient weight tables.
type Tables struct {
	Multipliers map[fund.DisasterType]decimal.Decimal
	Recipients  map[fund.DisasterType][]fund.WeightedRecipient
}

// tablesFile is the YAML file format for policy tables.
type tablesFile struct {
	Multipliers map[string]float64                  `yaml:"multipliers"`
	Recipients  map[string][]fund.WeightedRecipient `yaml:"recipients"`
}

// LoadTables reads policy tables from a YAML file. Multipliers omitted from
// the file keep their built-in values; recipient tables are taken as given.
func LoadTables(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read policy tables: %w", err)
	}

	var file tablesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Tables{}, fmt.Errorf("parse policy tables: %w", err)
	}

	multipliers := make(map[fund.DisasterType]decimal.Decimal, len(defaultMultipliers)+len(file.Multipliers))
	for t, m := range defaultMultipliers {
		multipliers[t] = m
	}
	for name, m := range file.Multipliers {
		if m <= 0 {
			return Tables{}, fmt.Errorf("multiplier for %q must be positive, got %v", name, m)
		}
		multipliers[fund.DisasterType(name)] = decimal.NewFromFloat(m)
	}

	recipients := make(map[fund.DisasterType][]fund.WeightedRecipient, len(file.Recipients))
	for name, recips := range file.Recipients {
		for _, r := range recips {
			if r.Address == "" {
				return Tables{}, fmt.Errorf("recipient for %q missing address", name)
			}
			if r.Weight <= 0 {
				return Tables{}, fmt.Errorf("recipient %s for %q must have positive weight, got %v", r.Address, name, r.Weight)
			}
		}
		recipients[fund.DisasterType(name)] = recips
	}

	return Tables{Multipliers: multipliers, Recipients: recipients}, nil
}
