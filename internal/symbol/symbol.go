// Package symbol normalizes exchange-native instrument identifiers into the
// canonical BASE/QUOTE form the rest of the runtime operates on.
package symbol

import "strings"

// Symbol is a validated, normalized "BASE/QUOTE" instrument identifier. The
// exchange-native form (e.g. the Kraken "XBT/USD" alias) is never exposed
// past Normalize.
type Symbol string

// aliases maps exchange-native asset codes to their canonical form. Open
// ended by design: unlike the original parser's three-pair match table,
// any BASE or QUOTE leg present here is rewritten regardless of the other leg.
var aliases = map[string]string{
	"XBT": "BTC",
}

// Normalize rewrites an exchange-native pair string (e.g. "XBT/USD") into
// its canonical display form (e.g. "BTC/USD"). It returns false if raw does
// not have the BASE/QUOTE shape.
func Normalize(raw string) (Symbol, bool) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	base := resolveAlias(parts[0])
	quote := resolveAlias(parts[1])
	return Symbol(base + "/" + quote), true
}

func resolveAlias(leg string) string {
	if canonical, ok := aliases[leg]; ok {
		return canonical
	}
	return leg
}

// reverseAliases inverts aliases, so Wire can translate a canonical leg back
// to the exchange-native spelling the subscribe frame expects.
var reverseAliases = invert(aliases)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Wire renders s back into the exchange-native pair spelling (e.g.
// "BTC/USD" -> "XBT/USD"), the inverse of Normalize.
func (s Symbol) Wire() string {
	parts := strings.SplitN(string(s), "/", 2)
	if len(parts) != 2 {
		return string(s)
	}
	base, quote := parts[0], parts[1]
	if native, ok := reverseAliases[base]; ok {
		base = native
	}
	if native, ok := reverseAliases[quote]; ok {
		quote = native
	}
	return base + "/" + quote
}

// String implements fmt.Stringer.
func (s Symbol) String() string {
	return string(s)
}
