package store

import (
	"fmt"
	"time"
)

const grantsCollection = "grants"

// GrantStore exposes create/get/list/remove over the grants collection.
type GrantStore struct {
	s *Store
}

// Grants returns a GrantStore bound to the given Store.
func (s *Store) Grants() *GrantStore { return &GrantStore{s: s} }

func (g *GrantStore) read() (*grantDocument, error) {
	var doc grantDocument
	if err := g.s.readDocument(grantsCollection, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Create persists a new grant. The caller is responsible for the
// ExpiresAt > CreatedAt invariant (spec §8 invariant 2).
func (g *GrantStore) Create(grant *Grant) (*Grant, error) {
	if !grant.ExpiresAt.After(grant.CreatedAt) {
		return nil, fmt.Errorf("grant: expiresAt must be after createdAt")
	}
	var created *Grant
	err := g.s.withCollection(grantsCollection, func() error {
		doc, err := g.read()
		if err != nil {
			return err
		}
		cp := *grant
		doc.Grants = append([]*Grant{&cp}, doc.Grants...)
		if err := g.s.writeDocument(grantsCollection, doc); err != nil {
			return err
		}
		created = &cp
		return nil
	})
	return created, err
}

// List returns all grants in insertion-newest-first order.
func (g *GrantStore) List() ([]*Grant, error) {
	var result []*Grant
	err := g.s.withCollection(grantsCollection, func() error {
		doc, err := g.read()
		if err != nil {
			return err
		}
		for _, grant := range doc.Grants {
			cp := *grant
			result = append(result, &cp)
		}
		return nil
	})
	return result, err
}

// Remove deletes the grant with the given id.
func (g *GrantStore) Remove(id string) error {
	return g.s.withCollection(grantsCollection, func() error {
		doc, err := g.read()
		if err != nil {
			return err
		}
		out := doc.Grants[:0]
		for _, grant := range doc.Grants {
			if grant.ID != id {
				out = append(out, grant)
			}
		}
		doc.Grants = out
		return g.s.writeDocument(grantsCollection, doc)
	})
}

// RemoveExpired deletes every grant whose ExpiresAt is before now, returning
// the count removed. Used by the cleanup loop (spec §4.11).
func (g *GrantStore) RemoveExpired(now time.Time) (int, error) {
	removed := 0
	err := g.s.withCollection(grantsCollection, func() error {
		doc, err := g.read()
		if err != nil {
			return err
		}
		out := doc.Grants[:0]
		for _, grant := range doc.Grants {
			if !grant.Active(now) {
				removed++
				continue
			}
			out = append(out, grant)
		}
		doc.Grants = out
		return g.s.writeDocument(grantsCollection, doc)
	})
	return removed, err
}
