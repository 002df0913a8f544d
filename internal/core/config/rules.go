package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/solatis/matchkeeper/internal/types"
)

// RuleSet is the document shape of a rules file:
//
//	rules:
//	  - property: payload.temp
//	    type: gt
//	    value: 30
type RuleSet struct {
	Rules []types.RawRule `mapstructure:"rules"`
}

// LoadRules reads a YAML or JSON rules file.
func LoadRules(path string) ([]types.RawRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes a rules document. Unknown keys are rejected so a typo
// such as "valuetype" does not silently fall back to type inference.
func ParseRules(data []byte) ([]types.RawRule, error) {
	var doc map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("rules document is empty")
		}
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	var set RuleSet
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &set,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}

	if len(set.Rules) > types.MaxRules {
		return nil, fmt.Errorf("%w: %d > %d", types.ErrTooManyRules, len(set.Rules), types.MaxRules)
	}
	for i, r := range set.Rules {
		if r.Type == "" {
			return nil, fmt.Errorf("rule %d: type is required", i+1)
		}
	}
	return set.Rules, nil
}
