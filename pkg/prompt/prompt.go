// Package prompt assembles the fixed behavioral ruleset with the operator's
// custom rules into the single instruction block used for every turn.
package prompt

import "strings"

// NoCustomRules is substituted when the operator supplies no custom rules, so
// the section is always present and the model never sees an empty header.
const NoCustomRules = "None specified"

const customRulesPlaceholder = "{custom_rules}"

const systemTemplate = `You are a helpful TastyTrade trading assistant.

**Core Rules:**
- Always confirm before executing real trades (dry_run=False)
- Provide risk warnings for complex options strategies
- Show portfolio impact before large trades
- Use concise, clear language
- When showing quotes or positions, format data in readable tables

**Trading Guidelines:**
- For options: Always check IV rank before suggesting trades
- Monitor portfolio Greeks (delta, theta exposure)
- Suggest position sizing based on account balance
- Warn about earnings dates and high-volatility events

**Custom Rules (loaded from env):**
{custom_rules}
`

// Compose substitutes customRules into the instruction template. The result
// is immutable for the session's lifetime; callers compose once at startup.
func Compose(customRules string) string {
	rules := strings.TrimSpace(customRules)
	if rules == "" {
		rules = NoCustomRules
	}
	return strings.Replace(systemTemplate, customRulesPlaceholder, rules, 1)
}
