package core

import "testing"

type indexingRuleDoc struct {
	Decision        string  `yaml:"decision"`
	MinSignal       float64 `yaml:"minSignal"`
	AllocationAmount string `yaml:"allocationAmount"`
}

func TestRuleDocumentRoundTrip(t *testing.T) {
	doc := indexingRuleDoc{Decision: "always", MinSignal: 100.5, AllocationAmount: "5000000000000000000"}
	value, err := encodeDocument(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule := Rule{Key: GlobalRuleKey, Kind: RuleKindIndexingRule, Value: value}
	var got indexingRuleDoc
	if err := rule.Document(&got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != doc {
		t.Fatalf("got %+v, want %+v", got, doc)
	}
}

func TestRuleDocumentMalformedYAML(t *testing.T) {
	rule := Rule{Key: GlobalRuleKey, Kind: RuleKindCostModel, Value: "not: valid: yaml: at: all: ["}
	var out map[string]any
	err := rule.Document(&out)
	if !IsKind(err, KindSchema) {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestRuleRowKeyNamespacesByKind(t *testing.T) {
	costRow := ruleRowKey(RuleKindCostModel, "D1")
	indexingRow := ruleRowKey(RuleKindIndexingRule, "D1")
	if costRow == indexingRow {
		t.Fatalf("expected cost-model and indexing-rule row keys to differ for the same user key, got %q twice", costRow)
	}
	if ruleUserKey(RuleKindCostModel, costRow) != "D1" {
		t.Fatalf("ruleUserKey(%q) = %q, want D1", costRow, ruleUserKey(RuleKindCostModel, costRow))
	}
}
