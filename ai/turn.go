package ai

// Turn is one dialogue exchange element shared by enrichment, retrieval
// and context assembly.
type Turn struct {
	Role    string // user, assistant
	Content string
}

// UserTurns filters a dialogue window down to user-authored turns,
// newest-last order preserved, capped at max from the end.
func UserTurns(dialogue []Turn, max int) []Turn {
	var users []Turn
	for _, t := range dialogue {
		if t.Role == "user" {
			users = append(users, t)
		}
	}
	if max > 0 && len(users) > max {
		users = users[len(users)-max:]
	}
	return users
}
