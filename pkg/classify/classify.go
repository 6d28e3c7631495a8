package classify

import "strings"

// Unknown is the label returned when no rule matches
const Unknown = "Unknown"

// Connection-type labels used by the default rule table
const (
	LabelWiFi     = "WiFi Local"
	LabelLAN      = "Local Network"
	LabelRadmin   = "Radmin VPN"
	LabelOpenVPN  = "OpenVPN"
	LabelInternal = "Internal Network/VPN"
	LabelPrivate  = "Private Network"
	LabelLoopback = "Localhost"
)

// Rule maps an address prefix to a connection-type label
type Rule struct {
	Prefix string `json:"prefix"`
	Label  string `json:"label"`
}

// Shadow describes a rule that can never match because an earlier,
// shorter prefix already covers it
type Shadow struct {
	Index   int
	Rule    Rule
	ByIndex int
	By      Rule
}

// Classifier labels addresses by ordered, first-match prefix rules.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	rules   []Rule
	unknown string
}

// DefaultRules returns the built-in rule table, most specific prefixes first
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "192.168.1.", Label: LabelWiFi},
		{Prefix: "192.168.", Label: LabelLAN},
		{Prefix: "26.36.148.", Label: LabelRadmin},
		{Prefix: "26.", Label: LabelRadmin},
		{Prefix: "10.0.11.", Label: LabelOpenVPN},
		{Prefix: "10.", Label: LabelInternal},
		{Prefix: "172.", Label: LabelPrivate},
		{Prefix: "127.", Label: LabelLoopback},
	}
}

// New creates a classifier from rules in priority order
func New(rules []Rule, unknown string) *Classifier {
	if unknown == "" {
		unknown = Unknown
	}
	rs := make([]Rule, len(rules))
	copy(rs, rules)
	return &Classifier{rules: rs, unknown: unknown}
}

// Classify returns the label of the first rule whose prefix starts addr.
// Matching is textual; anything that matches no rule gets the default label.
func (c *Classifier) Classify(addr string) string {
	if c == nil {
		return Unknown
	}
	for _, r := range c.rules {
		if r.Prefix != "" && strings.HasPrefix(addr, r.Prefix) {
			return r.Label
		}
	}
	return c.unknown
}

// UnknownLabel returns the label used when nothing matches
func (c *Classifier) UnknownLabel() string {
	if c == nil {
		return Unknown
	}
	return c.unknown
}

// Rules returns a copy of the rules in priority order
func (c *Classifier) Rules() []Rule {
	if c == nil {
		return nil
	}
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Shadowed reports rules that are unreachable under first-match evaluation
func (c *Classifier) Shadowed() []Shadow {
	if c == nil {
		return nil
	}
	var out []Shadow
	for i, r := range c.rules {
		for j := 0; j < i; j++ {
			earlier := c.rules[j]
			if earlier.Prefix != "" && strings.HasPrefix(r.Prefix, earlier.Prefix) {
				out = append(out, Shadow{Index: i, Rule: r, ByIndex: j, By: earlier})
				break
			}
		}
	}
	return out
}
