package repository

import "strings"

// outcomeFilter builds a WHERE clause matching any of the given outcomes. Blank entries are
// skipped and repeats collapse, so an all-blank filter yields an empty clause.
func outcomeFilter(outcomes []string) (string, []any) {
	seen := make(map[string]struct{}, len(outcomes))
	args := make([]any, 0, len(outcomes))
	for _, outcome := range outcomes {
		outcome = strings.ToLower(strings.TrimSpace(outcome))
		if outcome == "" {
			continue
		}
		if _, ok := seen[outcome]; ok {
			continue
		}
		seen[outcome] = struct{}{}
		args = append(args, outcome)
	}
	if len(args) == 0 {
		return "", nil
	}
	return ` WHERE outcome IN (?` + strings.Repeat(",?", len(args)-1) + `)`, args
}
