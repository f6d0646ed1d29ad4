package authgate

// SelectRule picks at most one rule from an active rule list already
// ordered by priority descending then id ascending.
//
// Selection is two-phase by design: an explicit route-name binding always
// beats a generic path glob, even one with higher priority. Only when no
// route-name rule matches (or no route name was supplied) does path
// matching run, and the first matcher hit in stored order wins. Inert
// rules (no target, or a matcher that failed to compile) are skipped.
func SelectRule(rules []*Rule, path, routeName string) *Rule {
	if routeName != "" {
		for _, r := range rules {
			if r.RouteName != "" && r.RouteName == routeName {
				return r
			}
		}
	}
	for _, r := range rules {
		if r.RouteName != "" {
			continue
		}
		if m := r.Matcher(); m != nil && m.Matches(path) {
			return r
		}
	}
	return nil
}
