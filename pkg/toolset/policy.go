package toolset

// Policy defines which tools the session may dispatch.
type Policy struct {
	Allow []string `json:"allow"` // allowed tools, "*" for all
	Deny  []string `json:"deny"`  // denied tools, overrides allow
}

// Allows checks a tool name against the policy. A nil policy allows all.
func (p *Policy) Allows(name string) bool {
	if p == nil {
		return true
	}

	for _, denied := range p.Deny {
		if denied == name || denied == "*" {
			return false
		}
	}

	for _, allowed := range p.Allow {
		if allowed == name || allowed == "*" {
			return true
		}
	}

	return false
}
