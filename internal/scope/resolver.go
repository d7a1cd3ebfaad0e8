// Package scope resolves and validates the normative-standard scope of
// a query: which ISO standards it references, whether it is ambiguous,
// and which filter keys are legal.
package scope

import (
	"regexp"
	"strings"

	"github.com/normcite/retrieval-core/internal/model"
)

// StandardProfile describes one recognized normative standard for the
// purposes of resolution and suggestion.
type StandardProfile struct {
	Number     string   // e.g. "9001"
	HintTokens []string // case-insensitive substrings that suggest this standard
}

// DefaultDomain is the configured set of standards this deployment
// understands. Kept small and explicit rather than loaded from an
// external taxonomy service.
var DefaultDomain = []StandardProfile{
	{Number: "9001", HintTokens: []string{"calidad", "quality management", "gestion de calidad"}},
	{Number: "14001", HintTokens: []string{"ambient", "legal", "aspecto ambiental", "environmental"}},
	{Number: "45001", HintTokens: []string{"seguridad", "safety", "occupational health"}},
}

var (
	explicitStandardRe = regexp.MustCompile(`(?i)ISO\s*[-:_]?\s*(\d{4,5})`)
	clauseRe           = regexp.MustCompile(`\d+(\.\d+)+`)
)

// Resolver extracts a ScopeResolution from a raw query string.
type Resolver struct {
	Domain []StandardProfile
}

// New builds a Resolver over the given domain set. A nil/empty domain
// falls back to DefaultDomain.
func New(domain []StandardProfile) *Resolver {
	if len(domain) == 0 {
		domain = DefaultDomain
	}
	return &Resolver{Domain: domain}
}

func (r *Resolver) bareNumbers() map[string]bool {
	set := make(map[string]bool, len(r.Domain))
	for _, p := range r.Domain {
		set[p.Number] = true
	}
	return set
}

// bareNumberList returns the configured standard numbers in the
// Domain's declared order, not map iteration order: resolution must
// be deterministic across repeated calls within a process, and Go
// randomizes map range order per iteration.
func (r *Resolver) bareNumberList() []string {
	numbers := make([]string, len(r.Domain))
	for i, p := range r.Domain {
		numbers[i] = p.Number
	}
	return numbers
}

// Resolve parses the query for explicit standard references, flags
// ambiguity, and proposes candidate standards.
func (r *Resolver) Resolve(query string) model.ScopeResolution {
	var ordered []string
	seen := make(map[string]bool)
	add := func(number string) {
		canon := "ISO " + number
		if !seen[canon] {
			seen[canon] = true
			ordered = append(ordered, canon)
		}
	}

	for _, m := range explicitStandardRe.FindAllStringSubmatch(query, -1) {
		add(m[1])
	}

	for _, number := range r.bareNumberList() {
		// Bare number occurrence, word-boundary safe via regexp.
		re := regexp.MustCompile(`(?:^|[^0-9])` + regexp.QuoteMeta(number) + `(?:[^0-9]|$)`)
		if re.MatchString(query) {
			add(number)
		}
	}

	requiresClarification := false
	if clauseRe.MatchString(query) && len(ordered) == 0 {
		requiresClarification = true
	}

	lowerQuery := strings.ToLower(query)
	var suggested []string
	for _, p := range r.Domain {
		for _, hint := range p.HintTokens {
			if strings.Contains(lowerQuery, strings.ToLower(hint)) {
				suggested = append(suggested, "ISO "+p.Number)
				break
			}
		}
	}
	if len(suggested) == 0 {
		for _, p := range r.Domain {
			suggested = append(suggested, "ISO "+p.Number)
		}
	}

	return model.ScopeResolution{
		RequestedStandards:         ordered,
		RequiresScopeClarification: requiresClarification,
		SuggestedScopes:            suggested,
	}
}

// Canonicalize normalizes a free-form standard token (e.g. "iso9001",
// "ISO-9001", "9001") to its canonical "ISO <number>" form. A token
// with an explicit ISO prefix is accepted for any 4-5 digit number; a
// bare number is accepted only if it is one of the resolver's known
// standards. Otherwise it returns ok=false.
func (r *Resolver) Canonicalize(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if m := explicitStandardRe.FindStringSubmatch(token); m != nil {
		return "ISO " + m[1], true
	}
	bare := r.bareNumbers()
	if bare[token] {
		return "ISO " + token, true
	}
	return "", false
}
