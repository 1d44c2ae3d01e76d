package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/buyback-engine/config"
	"github.com/warp/buyback-engine/presets"
	"github.com/warp/buyback-engine/store"
)

// execute runs the root command from an empty directory and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	wd, wdErr := os.Getwd()
	require.NoError(t, wdErr)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("BUYBACK_LOG_LEVEL", "error")

	quotePolicyFile, quoteItemFile, quoteMarket = "", "", ""
	quoteCondition, quoteAt, quoteTimezone = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "quote", "validate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("scenario"))
}

func TestQuoteCommand_Flags(t *testing.T) {
	for _, name := range []string{"policy", "item", "market", "condition", "at", "tz"} {
		assert.NotNil(t, quoteCmd.Flags().Lookup(name), "quote should have --%s flag", name)
	}
}

// =============================================================================
// QUOTE
// =============================================================================

func TestQuote_JSONPolicyWithItemFile(t *testing.T) {
	// GIVEN: 55% of market with a 10% foil bonus
	policy := writeFile(t, "singles.json",
		presets.StandardSinglesJSON("singles", "Singles", 55, presets.FoilBonusRule("foil", 10)))
	item := writeFile(t, "item.json",
		`{"market_price": "10", "condition": "NM", "attributes": {"foil": true}}`)

	// WHEN: Quoting from the CLI
	out, err := execute(t, "quote", "--policy", policy, "--item", item, "--tz", "UTC")
	require.NoError(t, err)

	// THEN: 10 * 0.55 * 1.10 = 6.05
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "singles", result["policy_id"])
	assert.Equal(t, "6.05", result["final_offer"])
	assert.Len(t, result["applied_rules"], 1)
}

func TestQuote_YAMLPolicyWithFlags(t *testing.T) {
	policy := writeFile(t, "singles.yaml", `
id: yaml-singles
name: YAML Singles
type: PERCENTAGE
base_percentage: 60
`)

	out, err := execute(t, "quote", "--policy", policy, "--market", "20", "--condition", "NM")
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "12", result["final_offer"])
}

func TestQuote_YAMLItemFile(t *testing.T) {
	policy := writeFile(t, "singles.json", presets.StandardSinglesJSON("singles", "Singles", 50))
	item := writeFile(t, "item.yml", "market_price: \"8\"\ncondition: LP\n")

	out, err := execute(t, "quote", "--policy", policy, "--item", item)
	require.NoError(t, err)

	// 8 * 0.5 * 0.9 (default LP grading)
	var result map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "3.6", result["final_offer"])
}

func TestQuote_Errors(t *testing.T) {
	policy := writeFile(t, "singles.json", presets.StandardSinglesJSON("singles", "Singles", 50))

	tests := []struct {
		name string
		args []string
	}{
		{"missing policy file", []string{"quote", "--policy", filepath.Join(t.TempDir(), "nope.json"), "--market", "1"}},
		{"bad market", []string{"quote", "--policy", policy, "--market", "lots"}},
		{"bad time", []string{"quote", "--policy", policy, "--market", "1", "--at", "yesterday"}},
		{"negative market", []string{"quote", "--policy", policy, "--market", "-1"}},
		{"huge market", []string{"quote", "--policy", policy, "--market", "1e30000000"}},
		{"unknown timezone", []string{"quote", "--policy", policy, "--market", "1", "--tz", "Mars/Olympus"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// VALIDATE
// =============================================================================

func TestValidate_CleanPolicy(t *testing.T) {
	policy := writeFile(t, "tiered.json",
		presets.TieredSinglesJSON("tiered", "Tiered", presets.WeekendBonusRule("weekend", 5)))

	out, err := execute(t, "validate", policy)

	require.NoError(t, err)
	assert.Contains(t, out, "policy tiered (TIERED): 1 rules, no problems")
}

func TestValidate_ReportsProblems(t *testing.T) {
	// GIVEN: A maximum below the minimum and a rule with a bad field
	policy := writeFile(t, "broken.json", `{
		"id": "broken",
		"type": "PERCENTAGE",
		"minimum_price": 5,
		"maximum_price": 1,
		"rules": [{
			"id": "r1",
			"conditions": {"type": "ATTRIBUTE", "field": "", "operator": "EQUALS", "value": 1},
			"action_type": "PERCENTAGE_MODIFIER",
			"action_value": 5
		}]
	}`)

	// WHEN: Validating
	out, err := execute(t, "validate", policy)

	// THEN: Every problem is listed and the command fails
	require.Error(t, err)
	assert.Contains(t, out, "policy broken: 2 problems")
	assert.Contains(t, out, "maximum_price 1 is below minimum_price 5")
	assert.Contains(t, out, "rules[0] (r1)")
}

func TestValidate_RequiresOneArg(t *testing.T) {
	_, err := execute(t, "validate")
	assert.Error(t, err)
}

// =============================================================================
// STORE SELECTION
// =============================================================================

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		st, closeStore, err := openStore(ctx, config.StoreConfig{Driver: "memory"})
		require.NoError(t, err)
		defer closeStore()
		assert.IsType(t, &store.Memory{}, st)
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "buyback.db")
		st, closeStore, err := openStore(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: path})
		require.NoError(t, err)
		defer closeStore()

		records, err := st.ListPolicies(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := openStore(ctx, config.StoreConfig{Driver: "mongo"})
		assert.ErrorContains(t, err, `unknown store driver "mongo"`)
	})
}
