package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/warp/buyback-engine/api"
	"github.com/warp/buyback-engine/factory"
	"github.com/warp/buyback-engine/pricing"
)

var (
	quotePolicyFile string
	quoteItemFile   string
	quoteMarket     string
	quoteCondition  string
	quoteAt         string
	quoteTimezone   string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Price one item against a policy file",
	Long: "Loads a JSON or YAML policy document and prints the full price breakdown for one item. " +
		"The item comes from --item (same shape as the quote API body) and the flags override its fields.",
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, err := loadPolicyFile(quotePolicyFile)
		if err != nil {
			return err
		}

		var item api.QuoteRequest
		if quoteItemFile != "" {
			if item, err = loadItemFile(quoteItemFile); err != nil {
				return err
			}
		}
		if err := applyQuoteFlags(&item); err != nil {
			return err
		}

		result, err := pricing.NewEngine().CalculatePrice(calculateInput(*policy, item))
		if err != nil {
			return eris.Wrap(err, "quote")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// loadPolicyFile parses a policy document, picking YAML or JSON by extension.
func loadPolicyFile(path string) (*pricing.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read policy %s", path)
	}

	f := factory.NewPolicyFactory()
	if isYAML(path) {
		return f.ParsePolicyYAML(data)
	}
	return f.ParsePolicy(string(data))
}

func loadItemFile(path string) (api.QuoteRequest, error) {
	var item api.QuoteRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return item, eris.Wrapf(err, "read item %s", path)
	}

	if isYAML(path) {
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return item, eris.Wrapf(err, "parse item %s", path)
		}
		if data, err = json.Marshal(doc); err != nil {
			return item, eris.Wrapf(err, "convert item %s", path)
		}
	}

	if err := json.Unmarshal(data, &item); err != nil {
		return item, eris.Wrapf(err, "decode item %s", path)
	}
	return item, nil
}

func applyQuoteFlags(item *api.QuoteRequest) error {
	if quoteMarket != "" {
		market, err := decimal.NewFromString(quoteMarket)
		if err != nil {
			return eris.Wrapf(err, "invalid --market %q", quoteMarket)
		}
		if !pricing.WithinExponentRange(market) {
			return eris.Errorf("invalid --market %q: exponent outside ±%d", quoteMarket, pricing.MaxExponent)
		}
		item.MarketPrice = market
	}
	if quoteCondition != "" {
		item.Condition = quoteCondition
	}
	if quoteAt != "" {
		at, err := time.Parse(time.RFC3339, quoteAt)
		if err != nil {
			return eris.Wrapf(err, "invalid --at %q", quoteAt)
		}
		item.EvaluationTime = &at
	}
	if quoteTimezone != "" {
		item.Timezone = quoteTimezone
	}
	if item.Timezone == "" && cfg != nil {
		item.Timezone = cfg.Pricing.Timezone
	}
	return nil
}

func calculateInput(policy pricing.Policy, item api.QuoteRequest) pricing.CalculateInput {
	in := pricing.CalculateInput{
		Policy:       policy,
		MarketPrice:  item.MarketPrice,
		Condition:    item.Condition,
		Attributes:   item.Attributes,
		CategoryID:   item.CategoryID,
		CategorySlug: item.CategorySlug,
		Timezone:     item.Timezone,
	}
	if item.Inventory != nil {
		in.Inventory = &pricing.Inventory{QtyOnHand: item.Inventory.QtyOnHand}
	}
	if item.EvaluationTime != nil {
		in.EvaluationTime = *item.EvaluationTime
	}
	return in
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func init() {
	quoteCmd.Flags().StringVar(&quotePolicyFile, "policy", "", "policy document (.json, .yaml or .yml)")
	quoteCmd.Flags().StringVar(&quoteItemFile, "item", "", "item document in the quote API shape")
	quoteCmd.Flags().StringVar(&quoteMarket, "market", "", "market price")
	quoteCmd.Flags().StringVar(&quoteCondition, "condition", "", "card condition (NM, LP, MP, HP, DMG)")
	quoteCmd.Flags().StringVar(&quoteAt, "at", "", "evaluation time, RFC 3339 (default now)")
	quoteCmd.Flags().StringVar(&quoteTimezone, "tz", "", "IANA timezone for date conditions (default from config)")
	_ = quoteCmd.MarkFlagRequired("policy")
	rootCmd.AddCommand(quoteCmd)
}
