package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

var validateCmd = &cobra.Command{
	Use:   "validate [rules-file]",
	Short: "Print the normalized rule set and report configuration problems",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Service.RulesFile
	}

	raw, err := config.LoadRules(path)
	if err != nil {
		return err
	}
	normalized := rules.Normalize(raw)
	if err := printRules(cmd.OutOrStdout(), normalized); err != nil {
		return err
	}

	problems := rules.Check(normalized)
	unknownOp := false
	for _, p := range problems {
		fmt.Fprintln(cmd.ErrOrStderr(), p)
		unknownOp = unknownOp || errors.Is(p, types.ErrUnknownOperator)
	}
	if unknownOp {
		fmt.Fprintln(cmd.ErrOrStderr(), "known operators:", operatorList())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s: %d problem(s)", path, len(problems))
	}
	return nil
}

// printRules writes the normalized rules as a YAML rules document.
func printRules(w io.Writer, list []rules.Rule) error {
	docs := make([]map[string]any, len(list))
	for i, r := range list {
		doc := map[string]any{
			"property":     r.Property,
			"propertyType": string(r.PropertyType),
			"type":         r.OperatorKey,
			"valueType":    string(r.ValueType),
		}
		if r.Value != nil {
			doc["value"] = r.Value
		}
		if r.HasValue2 {
			doc["value2Type"] = string(r.Value2Type)
			if r.Value2 != nil {
				doc["value2"] = r.Value2
			}
		}
		if r.CaseInsensitive {
			doc["case"] = true
		}
		docs[i] = doc
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"rules": docs}); err != nil {
		return err
	}
	return enc.Close()
}

func operatorList() string {
	ops := rules.Operators()
	keys := make([]string, len(ops))
	for i, op := range ops {
		keys[i] = op.String()
	}
	return strings.Join(keys, " ")
}
