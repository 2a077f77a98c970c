package identity

import "github.com/kozaktomas/people-tracker/internal/facematch"

// FindByName returns identities whose display name matches name after
// normalization, so "jan-novak" finds "Jan Novák".
func (s *Store) FindByName(name string) []*Identity {
	if facematch.NormalizePersonName(name) == "" {
		return nil
	}
	var found []*Identity
	for _, id := range s.identities {
		if facematch.SameName(id.DisplayName, name) {
			found = append(found, id)
		}
	}
	return found
}
