package people

import (
	"context"
	"errors"
	"strings"

	"gleaner/internal/store"
)

// Candidate describes a person the resolver wants to bind to an identity.
type Candidate struct {
	AccountID    string
	ProjectID    string
	Name         string
	Organization string
	Role         string
	Segment      string
	Description  string
	Internal     bool
}

// IdentityMatcher binds a candidate to a durable Person, creating one when
// no existing record matches.
type IdentityMatcher interface {
	Match(ctx context.Context, c Candidate) (*store.Person, bool, error)
}

// PersonStore is the persistence StoreMatcher needs.
type PersonStore interface {
	FindPeopleByName(ctx context.Context, accountID, name string) ([]*store.Person, error)
	InsertPerson(ctx context.Context, p *store.Person) (*store.Person, bool, error)
	SetPersonOrganization(ctx context.Context, id, organization string) error
}

// StoreMatcher matches by account and normalized name, treating the
// organization as part of the identity once both sides know it.
type StoreMatcher struct {
	people PersonStore
}

func NewStoreMatcher(people PersonStore) *StoreMatcher {
	return &StoreMatcher{people: people}
}

// Match returns the matched person and whether it was created.
func (m *StoreMatcher) Match(ctx context.Context, c Candidate) (*store.Person, bool, error) {
	name := strings.Join(strings.Fields(c.Name), " ")
	if name == "" {
		return nil, false, errors.New("match person: empty name")
	}
	existing, err := m.people.FindPeopleByName(ctx, c.AccountID, name)
	if err != nil {
		return nil, false, err
	}
	org := strings.TrimSpace(c.Organization)
	if len(existing) > 0 {
		if org == "" {
			return preferInternal(existing, c.Internal), false, nil
		}
		for _, p := range existing {
			if store.NameKey(p.Organization) == store.NameKey(org) {
				return p, false, nil
			}
		}
		for _, p := range existing {
			if strings.TrimSpace(p.Organization) == "" {
				if err := m.people.SetPersonOrganization(ctx, p.ID, org); err != nil {
					return nil, false, err
				}
				p.Organization = org
				return p, false, nil
			}
		}
	}
	first, last := ParseFullName(name)
	return m.people.InsertPerson(ctx, &store.Person{
		AccountID:    c.AccountID,
		ProjectID:    c.ProjectID,
		Name:         name,
		FirstName:    first,
		LastName:     last,
		Role:         c.Role,
		Organization: org,
		Segment:      c.Segment,
		Description:  c.Description,
		IsInternal:   c.Internal,
	})
}

func preferInternal(people []*store.Person, internal bool) *store.Person {
	for _, p := range people {
		if p.IsInternal == internal {
			return p
		}
	}
	return people[0]
}
