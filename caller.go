package authgate

import "github.com/oarkflow/authgate/utils"

// AbilityWildcard in a token's ability list means the token carries no
// scope restriction at all.
const AbilityWildcard = "*"

// CallerFacts describes an already-verified caller: the boundary resolves
// the bearer token (human or service credential) into this value object
// once, so the engine never needs to know where the facts came from.
type CallerFacts struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Abilities   []string `json:"abilities"`
}

// StoreContext is the request-scoped bag candidate store IDs are extracted
// from. Keys are looked up by the rule's StoreIDSources.
type StoreContext struct {
	Path  map[string]any `json:"path,omitempty"`
	Query map[string]any `json:"query,omitempty"`
	Body  map[string]any `json:"body,omitempty"`
}

// abilitiesCoverAny reports whether the token scope permits exercising at
// least one of perms. An empty ability list or the wildcard means no
// restriction.
func abilitiesCoverAny(abilities, perms []string) bool {
	if len(abilities) == 0 || utils.ContainsString(abilities, AbilityWildcard) {
		return true
	}
	return utils.HasAny(abilities, perms)
}

// abilitiesCoverAll reports whether the token scope permits exercising all
// of perms.
func abilitiesCoverAll(abilities, perms []string) bool {
	if len(abilities) == 0 || utils.ContainsString(abilities, AbilityWildcard) {
		return true
	}
	return utils.HasAll(abilities, perms)
}
