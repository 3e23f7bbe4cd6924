package store

const rulesCollection = "rules"

// RuleStore exposes create/upsert/list/remove over the dynamic policy rules
// collection. Upsert enforces spec §8 invariant 3: exactly one rule exists
// per pattern at any time, and the most recent upsert wins.
type RuleStore struct {
	s *Store
}

// Rules returns a RuleStore bound to the given Store.
func (s *Store) Rules() *RuleStore { return &RuleStore{s: s} }

func (r *RuleStore) read() (*ruleDocument, error) {
	var doc ruleDocument
	if err := r.s.readDocument(rulesCollection, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Upsert replaces any existing rule for pattern and inserts the new one at
// the head of the list.
func (r *RuleStore) Upsert(rule *Rule) (*Rule, error) {
	var result *Rule
	err := r.s.withCollection(rulesCollection, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		filtered := doc.Rules[:0]
		for _, existing := range doc.Rules {
			if existing.Pattern != rule.Pattern {
				filtered = append(filtered, existing)
			}
		}
		cp := *rule
		doc.Rules = append([]*Rule{&cp}, filtered...)
		if err := r.s.writeDocument(rulesCollection, doc); err != nil {
			return err
		}
		result = &cp
		return nil
	})
	return result, err
}

// List returns all dynamic rules in insertion-newest-first order. The
// Policy Resolver relies on this ordering to find the first exact, then
// first pattern, match (spec §4.6).
func (r *RuleStore) List() ([]*Rule, error) {
	var result []*Rule
	err := r.s.withCollection(rulesCollection, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		for _, rule := range doc.Rules {
			cp := *rule
			result = append(result, &cp)
		}
		return nil
	})
	return result, err
}

// Remove deletes the rule with the given pattern.
func (r *RuleStore) Remove(pattern string) error {
	return r.s.withCollection(rulesCollection, func() error {
		doc, err := r.read()
		if err != nil {
			return err
		}
		out := doc.Rules[:0]
		for _, rule := range doc.Rules {
			if rule.Pattern != pattern {
				out = append(out, rule)
			}
		}
		doc.Rules = out
		return r.s.writeDocument(rulesCollection, doc)
	})
}
