package secrets

// Rule is a regular-expression credential detector.
//
// When the pattern has a capturing group only the first group is redacted,
// so "password: hunter22" keeps its label.
type Rule struct {
	ID      string
	Pattern string
}

// DefaultRules returns the rules for credentials typical of browser automation.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "form-password", Pattern: `(?i)\b(?:password|passwd|pwd|passcode)\b["']?\s*(?:[:=]|\bwith\b)\s*["']?([^\s"',;]{4,})`},
		{ID: "type-into-password", Pattern: `(?i)\btype\s+["']([^"']{4,})["']\s+(?:in|into)\s+\S*(?:pass|pwd)`},
		{ID: "api-key", Pattern: `(?i)\b(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token|client[_-]?secret)\b["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{12,})`},
		{ID: "bearer-token", Pattern: `(?i)\bbearer\s+([A-Za-z0-9_\-.=]{16,})`},
		{ID: "basic-auth", Pattern: `(?i)\bbasic\s+([A-Za-z0-9+/]{12,}={0,2})`},
		{ID: "url-credentials", Pattern: `(?i)\b[a-z][a-z0-9+.-]*://[^/\s:@]+:([^@\s/]+)@`},
		{ID: "session-cookie", Pattern: `(?i)\b(?:session[_-]?id|sessid|phpsessid|jsessionid|sid|connect\.sid)\s*=\s*([A-Za-z0-9%_\-.]{16,})`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |EC |OPENSSH |PGP )?PRIVATE KEY-----`},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b`},
		{ID: "stripe-key", Pattern: `\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{16,}\b`},
		{ID: "aws-access-key-id", Pattern: `\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`},
	}
}
