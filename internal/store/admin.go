package store

const adminCollection = "admin"

// AdminStore exposes get/set over the single admin pairing record.
type AdminStore struct {
	s *Store
}

// Admin returns an AdminStore bound to the given Store.
func (s *Store) Admin() *AdminStore { return &AdminStore{s: s} }

// Get returns the current pairing record. A never-paired gateway returns a
// zero-value AdminPairing (empty AdminChatID).
func (a *AdminStore) Get() (*AdminPairing, error) {
	var result AdminPairing
	err := a.s.withCollection(adminCollection, func() error {
		var doc adminDocument
		if err := a.s.readDocument(adminCollection, &doc); err != nil {
			return err
		}
		result = doc.Admin
		return nil
	})
	return &result, err
}

// Pair sets the admin pairing record. Callers (internal/approval) are
// responsible for only calling this once, per spec §3's "established
// exactly once" invariant; the store itself performs no such check since it
// has no notion of "already paired" versus "re-pairing after a reset".
func (a *AdminStore) Pair(pairing AdminPairing) error {
	return a.s.withCollection(adminCollection, func() error {
		doc := adminDocument{Admin: pairing}
		return a.s.writeDocument(adminCollection, doc)
	})
}
