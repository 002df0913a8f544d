package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/matchkeeper/internal/core/api"
	"github.com/solatis/matchkeeper/internal/core/config"
	"github.com/solatis/matchkeeper/internal/props"
	"github.com/solatis/matchkeeper/internal/rules"
	"github.com/solatis/matchkeeper/internal/types"
)

var evalCmd = &cobra.Command{
	Use:   "eval [records.jsonl]",
	Short: "Evaluate JSON-lines records against a rules file",
	Long: `Reads one JSON object per line (from the file or stdin) and prints one JSON
line per record with its routing. State carries across records in input order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().String("rules", "", "rules file (YAML or JSON); defaults to service.rules_file")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rules") {
		cfg.Service.RulesFile, _ = cmd.Flags().GetString("rules")
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	raw, err := config.LoadRules(cfg.Service.RulesFile)
	if err != nil {
		return err
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	matcher, err := rules.NewMatcher(raw,
		props.New(props.WithFlow(st.flow), props.WithGlobal(st.global)),
		rules.WithLogger(logger))
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open records: %w", err)
		}
		defer f.Close()
		in = f
	}
	return evalRecords(ctx, matcher, in, cmd.OutOrStdout())
}

// evalRecords feeds each input line to m and writes one result line per
// record. Record errors are reported inline and do not stop the run.
func evalRecords(ctx context.Context, m *rules.Matcher, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), types.MaxRecordSize)
	enc := json.NewEncoder(out)

	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		rec, err := types.DecodeRecord(data)
		if err != nil {
			if err := enc.Encode(map[string]any{"line": line, "error": err.Error()}); err != nil {
				return err
			}
			continue
		}

		outcome, err := m.Process(ctx, rec)
		var result map[string]any
		if err != nil {
			result = map[string]any{"line": line, "record_id": string(rec.ID), "error": err.Error()}
		} else {
			result = api.OutcomeFields(rec, outcome)
			result["line"] = line
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("line %d: %w", line+1, err)
	}
	return nil
}
