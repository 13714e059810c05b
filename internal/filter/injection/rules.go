package injection

import "regexp"

// Rule defines a prompt injection detection pattern.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Category string // "instruction_override", "role_reassignment", "mode_switch", "encoding_trick", "output_steering"
}

// DefaultRules returns the built-in injection detection rules. Order matters:
// the scanner reports the first rule that matches.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "ignore_previous",
			Regex:    regexp.MustCompile(`(?i)ignore\s+(all\s+)?(the\s+)?(previous|prior|above)\s+instructions`),
			Category: "instruction_override",
		},
		{
			Name:     "disregard_prior",
			Regex:    regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)\s+(instructions|context|rules)`),
			Category: "instruction_override",
		},
		{
			Name:     "forget_instructions",
			Regex:    regexp.MustCompile(`(?i)forget\s+(all\s+|everything\s+|your\s+)+(previous\s+)?(instructions|rules|you\s+were\s+told)`),
			Category: "instruction_override",
		},
		{
			Name:     "new_instructions",
			Regex:    regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
			Category: "instruction_override",
		},
		{
			Name:     "reveal_system_prompt",
			Regex:    regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(me\s+)?(your|the)\s+(system\s+prompt|hidden\s+instructions)`),
			Category: "instruction_override",
		},
		{
			Name:     "you_are_now",
			Regex:    regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the|in)\s+`),
			Category: "role_reassignment",
		},
		{
			Name:     "pretend_to_be",
			Regex:    regexp.MustCompile(`(?i)(pretend|act\s+as\s+if)\s+(that\s+)?you\s+(are|were|have)\s+(no|an?\s+unrestricted|unfiltered)`),
			Category: "role_reassignment",
		},
		{
			Name:     "system_prefix",
			Regex:    regexp.MustCompile(`(?i)^\s*system\s*:\s*`),
			Category: "role_reassignment",
		},
		{
			Name:     "code_block_system",
			Regex:    regexp.MustCompile("(?i)```system"),
			Category: "role_reassignment",
		},
		{
			Name:     "jailbreak",
			Regex:    regexp.MustCompile(`(?i)((?-i:\bDAN)\s+mode\b|\b(act\s+as|you\s+are(\s+now)?)\s+(a\s+)?(?-i:DAN\b)|do\s+anything\s+now|jailbreak|unrestricted\s+mode)`),
			Category: "mode_switch",
		},
		{
			Name:     "developer_mode",
			Regex:    regexp.MustCompile(`(?i)\b(developer|debug|admin|root|god)\s+mode\s+(enabled|activated|on)\b`),
			Category: "mode_switch",
		},
		{
			Name:     "base64_instruction",
			Regex:    regexp.MustCompile(`(?i)(decode|execute|follow)\s+(the\s+)?base64`),
			Category: "encoding_trick",
		},
		{
			Name:     "response_prefix",
			Regex:    regexp.MustCompile(`(?i)respond\s+with\s*:\s*(sure|absolutely|of\s+course)`),
			Category: "output_steering",
		},
	}
}
