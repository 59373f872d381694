package core

// RuleStore is the out-of-hard-core cost-model / indexing-rule storage of
// spec.md §4.G: "treated as simple key-value storage with a global fallback
// key." The management API exposes Get/Set/Delete/List over it.

import (
	"context"

	"gopkg.in/yaml.v3"
)

// RuleKind distinguishes the two kinds of rule rows the management API
// manages; both share one table since both are just a key/value pair.
type RuleKind string

const (
	RuleKindCostModel    RuleKind = "cost_model"
	RuleKindIndexingRule RuleKind = "indexing_rule"
)

// GlobalRuleKey is the fallback key consulted when no deployment-specific
// rule exists.
const GlobalRuleKey = "global"

// Rule is a single key-value row: key is a deploymentId hex string or
// GlobalRuleKey. Value is the rule document, YAML-encoded on disk (both cost
// models and indexing rules are free-form parameter sets upstream).
type Rule struct {
	Key   string
	Kind  RuleKind
	Value string
}

// Document unmarshals Value as YAML into out.
func (r Rule) Document(out any) error {
	if err := yaml.Unmarshal([]byte(r.Value), out); err != nil {
		return SchemaError("malformed_rule_document", err.Error())
	}
	return nil
}

// encodeDocument marshals an arbitrary rule document to its YAML storage form.
func encodeDocument(doc any) (string, error) {
	b, err := yaml.Marshal(doc)
	if err != nil {
		return "", SchemaError("undocumentable_rule", err.Error())
	}
	return string(b), nil
}

type RuleStore struct {
	store *Store
}

func NewRuleStore(s *Store) *RuleStore { return &RuleStore{store: s} }

// Get returns the rule for key and kind, falling back to GlobalRuleKey if no
// deployment-specific row exists.
func (r *RuleStore) Get(ctx context.Context, kind RuleKind, key string) (*Rule, error) {
	rule, err := r.getExact(ctx, kind, key)
	if err == nil {
		return rule, nil
	}
	if !IsKind(err, KindNotFound) || key == GlobalRuleKey {
		return nil, err
	}
	return r.getExact(ctx, kind, GlobalRuleKey)
}

func (r *RuleStore) getExact(ctx context.Context, kind RuleKind, key string) (*Rule, error) {
	const q = `SELECT key, kind, value FROM rules WHERE key = $1 AND kind = $2`
	row := r.store.Pool.QueryRow(ctx, q, ruleRowKey(kind, key), string(kind))
	var rule Rule
	var k string
	if err := row.Scan(&rule.Key, &k, &rule.Value); err != nil {
		if isNoRows(err) {
			return nil, NotFoundError("rule_not_found", "no "+string(kind)+" rule for key "+key)
		}
		return nil, TransientError("load rule", err)
	}
	rule.Kind = RuleKind(k)
	rule.Key = key
	return &rule, nil
}

// Set upserts a rule.
func (r *RuleStore) Set(ctx context.Context, kind RuleKind, key, value string) (*Rule, error) {
	if key == "" {
		return nil, SchemaError("key_required", "rule key must not be empty")
	}
	const upsert = `
		INSERT INTO rules (key, kind, value) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, kind = EXCLUDED.kind`
	if _, err := r.store.Pool.Exec(ctx, upsert, ruleRowKey(kind, key), string(kind), value); err != nil {
		return nil, TransientError("set rule", err)
	}
	return &Rule{Key: key, Kind: kind, Value: value}, nil
}

// SetDocument marshals doc as YAML and upserts it as the rule's value.
func (r *RuleStore) SetDocument(ctx context.Context, kind RuleKind, key string, doc any) (*Rule, error) {
	value, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}
	return r.Set(ctx, kind, key, value)
}

// Delete removes a rule. Deleting GlobalRuleKey is allowed; callers that
// depend on a fallback should Set a replacement first.
func (r *RuleStore) Delete(ctx context.Context, kind RuleKind, key string) error {
	const del = `DELETE FROM rules WHERE key = $1 AND kind = $2`
	tag, err := r.store.Pool.Exec(ctx, del, ruleRowKey(kind, key), string(kind))
	if err != nil {
		return TransientError("delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError("rule_not_found", "no "+string(kind)+" rule for key "+key)
	}
	return nil
}

// List returns every rule of kind.
func (r *RuleStore) List(ctx context.Context, kind RuleKind) ([]Rule, error) {
	const q = `SELECT key, kind, value FROM rules WHERE kind = $1 ORDER BY key`
	rows, err := r.store.Pool.Query(ctx, q, string(kind))
	if err != nil {
		return nil, TransientError("list rules", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var rule Rule
		var rowKey, k string
		if err := rows.Scan(&rowKey, &k, &rule.Value); err != nil {
			return nil, TransientError("scan rule", err)
		}
		rule.Kind = RuleKind(k)
		rule.Key = ruleUserKey(RuleKind(k), rowKey)
		out = append(out, rule)
	}
	return out, rows.Err()
}

// ruleRowKey namespaces a user-facing key by kind so cost_model and
// indexing_rule rows sharing the same deployment key don't collide on the
// rules table's single-column primary key.
func ruleRowKey(kind RuleKind, key string) string { return string(kind) + ":" + key }

func ruleUserKey(kind RuleKind, rowKey string) string {
	prefix := string(kind) + ":"
	if len(rowKey) > len(prefix) && rowKey[:len(prefix)] == prefix {
		return rowKey[len(prefix):]
	}
	return rowKey
}
