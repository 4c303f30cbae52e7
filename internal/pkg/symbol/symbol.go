// Package symbol converts between the human form ("XRP/USDT") used in
// link-set files and the exchange form ("XRPUSDT") used on the wire.
package symbol

import "strings"

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	quoteCurrencies := []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

// Normalize accepts either form and returns the internal form, or the
// uppercased input unchanged when the quote currency is unrecognized.
func Normalize(s string) string {
	if sym := Parse(s); sym.Base != "" {
		return sym.Internal()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// ToExchange accepts either form and returns the exchange form.
func ToExchange(s string) string {
	return strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "/", "")
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
