package collaboration

import "collabflow/auth"

// AvailableActions returns the actions role may invoke from status.
// Guards are not evaluated; a listed action may still fail its precondition.
func AvailableActions(status Status, role auth.Role) []Action {
	out := []Action{}
	for _, a := range ActionsFrom(status) {
		r, _ := Lookup(status, a)
		if r.Eligible.Permits(role) {
			out = append(out, a)
		}
	}
	return out
}

func authorize(rule Rule, role auth.Role) error {
	if !rule.Eligible.Permits(role) {
		return &PermissionError{Role: role, Action: rule.Action, From: rule.From}
	}
	return nil
}
