package detect

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"sentinel/core"
)

//go:embed defaults.yaml
var defaultCatalog []byte

type catalog struct {
	Rules            []core.DetectionRule `yaml:"rules"`
	CorrelationRules []CorrelationRule    `yaml:"correlationRules"`
}

func loadCatalog() (*catalog, error) {
	var cat catalog
	if err := yaml.Unmarshal(defaultCatalog, &cat); err != nil {
		return nil, fmt.Errorf("parse embedded rule catalog: %w", err)
	}
	for i := range cat.Rules {
		if err := cat.Rules[i].Validate(); err != nil {
			return nil, fmt.Errorf("embedded rule catalog: %w", err)
		}
	}
	for i := range cat.CorrelationRules {
		if err := cat.CorrelationRules[i].Validate(); err != nil {
			return nil, fmt.Errorf("embedded rule catalog: %w", err)
		}
	}
	return &cat, nil
}

// DefaultRules returns a fresh copy of the embedded detection rule
// catalog.
func DefaultRules() ([]core.DetectionRule, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return cat.Rules, nil
}

// DefaultCorrelationRules returns a fresh copy of the embedded
// correlation rule catalog.
func DefaultCorrelationRules() ([]CorrelationRule, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	return cat.CorrelationRules, nil
}
