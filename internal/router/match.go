package router

import "strings"

// Decision is what the router does with an inbound message.
type Decision int

const (
	DecisionHelp    Decision = iota // no recognized domain
	DecisionInvalid                 // domain present, not a status link
	DecisionFetch                   // status link, download it
)

func (d Decision) String() string {
	switch d {
	case DecisionInvalid:
		return "invalid"
	case DecisionFetch:
		return "fetch"
	default:
		return "help"
	}
}

// Matcher recognizes status links by plain substring markers.
type Matcher struct {
	domains      []string
	statusMarker string
}

func NewMatcher(domains []string, statusMarker string) Matcher {
	if len(domains) == 0 {
		domains = []string{"twitter.com", "x.com"}
	}
	if statusMarker == "" {
		statusMarker = "/status/"
	}
	return Matcher{domains: domains, statusMarker: statusMarker}
}

// Classify decides how to answer text.
func (m Matcher) Classify(text string) Decision {
	if !m.hasDomain(text) {
		return DecisionHelp
	}
	if !strings.Contains(text, m.statusMarker) {
		return DecisionInvalid
	}
	return DecisionFetch
}

// ExtractURL returns the first whitespace-separated token that carries both a
// domain and the status marker, or the trimmed text when no single token does.
func (m Matcher) ExtractURL(text string) string {
	for _, tok := range strings.Fields(text) {
		if m.hasDomain(tok) && strings.Contains(tok, m.statusMarker) {
			return strings.Trim(tok, "<>()[]\"'")
		}
	}
	return strings.TrimSpace(text)
}

func (m Matcher) hasDomain(s string) bool {
	for _, d := range m.domains {
		if strings.Contains(s, d) {
			return true
		}
	}
	return false
}
