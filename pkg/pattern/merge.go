package pattern

// PickRepresentative decides which of two near-duplicate patterns
// survives a merge. The higher occurrence count wins; ties go to the
// older pattern.
func PickRepresentative(a, b *Pattern) (winner, loser *Pattern) {
	if a.Profile.Occurrences != b.Profile.Occurrences {
		if a.Profile.Occurrences > b.Profile.Occurrences {
			return a, b
		}
		return b, a
	}
	if b.Access.CreatedAt.Before(a.Access.CreatedAt) {
		return b, a
	}
	return a, b
}

// Merge folds a duplicate into its representative and returns the
// merged pattern as a new value. Neither input is mutated.
//
// The representative keeps its identity and content; occurrence counts
// are summed, strength and confidence take the maximum, locations,
// evidence, tags and relationship hints are unioned with exact
// duplicates dropped. Access history spans both: earliest creation,
// latest access, counts summed. The coordinate is re-derived from the
// merged profile, which differs from both inputs.
func Merge(winner, loser *Pattern) *Pattern {
	out := winner.Clone()

	out.Profile.Occurrences = winner.Profile.Occurrences + loser.Profile.Occurrences
	out.Profile.Strength = maxf(winner.Profile.Strength, loser.Profile.Strength)
	out.Profile.Confidence = maxf(winner.Profile.Confidence, loser.Profile.Confidence)

	out.Locations = unionLocations(out.Locations, loser.Locations)
	out.Evidence = unionEvidence(out.Evidence, loser.Evidence)
	out.Tags = unionStrings(out.Tags, loser.Tags)
	out.RelatedTo = unionStrings(out.RelatedTo, loser.RelatedTo)
	out.Causes = unionStrings(out.Causes, loser.Causes)
	out.RequiredBy = unionStrings(out.RequiredBy, loser.RequiredBy)

	if !loser.Access.CreatedAt.IsZero() &&
		(out.Access.CreatedAt.IsZero() || loser.Access.CreatedAt.Before(out.Access.CreatedAt)) {
		out.Access.CreatedAt = loser.Access.CreatedAt
	}
	if loser.Access.LastAccessed.After(out.Access.LastAccessed) {
		out.Access.LastAccessed = loser.Access.LastAccessed
	}
	out.Access.AccessCount += loser.Access.AccessCount
	out.Access.Relevance = maxf(out.Access.Relevance, loser.Access.Relevance)

	out.DeriveCoordinate()
	return out
}

func unionStrings(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base))
	for _, s := range base {
		seen[s] = struct{}{}
	}
	out := base
	for _, s := range extra {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func unionLocations(base, extra []CodeLocation) []CodeLocation {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[CodeLocation]struct{}, len(base))
	for _, l := range base {
		seen[l] = struct{}{}
	}
	out := base
	for _, l := range extra {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

func unionEvidence(base, extra []Evidence) []Evidence {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[Evidence]struct{}, len(base))
	for _, e := range base {
		seen[e] = struct{}{}
	}
	out := base
	for _, e := range extra {
		if _, ok := seen[e]; !ok {
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
