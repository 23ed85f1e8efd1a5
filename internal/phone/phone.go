// Package phone normalizes raw recipient input into canonical network
// addresses. Everything here is deterministic and side-effect-free so the
// dispatch worker and the batch analysis endpoints agree on the same output.
package phone

import "strings"

// Country maps a dialing prefix to the local-number lengths it expects.
type Country struct {
	Code    string
	Name    string
	Lengths []int
}

// Recognized dialing prefixes, checked in order.
var countries = []Country{
	{Code: "1", Name: "USA/Canada", Lengths: []int{10}},
	{Code: "44", Name: "United Kingdom", Lengths: []int{10}},
	{Code: "351", Name: "Portugal", Lengths: []int{9}},
	{Code: "55", Name: "Brazil", Lengths: []int{10, 11}},
	{Code: "61", Name: "Australia", Lengths: []int{9, 10}},
	{Code: "81", Name: "Japan", Lengths: []int{10, 11}},
}

const (
	defaultCountryCode = "55"
	defaultAreaCode    = "11"

	// A default-country number with area code is at most 11 digits. Anything
	// that short is read as a bare national number, not as internationally
	// prefixed, unless the prefix is the default country's own code.
	maxBareNationalLen = 11
)

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// Detect returns the recognized country for a cleaned (digits-only) number.
// A prefix only counts when the remaining local number has one of that
// country's expected lengths; "5512345" carries the Brazil code but no valid
// local number, so it is not recognized.
func Detect(cleaned string) (Country, bool) {
	for _, c := range countries {
		if !strings.HasPrefix(cleaned, c.Code) {
			continue
		}
		if len(cleaned) <= maxBareNationalLen && c.Code != defaultCountryCode {
			continue
		}
		local := len(cleaned) - len(c.Code)
		for _, l := range c.Lengths {
			if local == l {
				return c, true
			}
		}
	}
	return Country{}, false
}

// Normalize maps a raw recipient string to a canonical address: strip
// non-digits; keep numbers bearing a recognized country code as-is; otherwise
// apply the default-country heuristic — short numbers (<=9 digits) get the
// default country code plus the default area code, medium numbers (10-11
// digits) get only the default country code, and anything longer is assumed
// to already carry an unrecognized but plausible prefix and passes through.
func Normalize(raw string) string {
	cleaned := digitsOnly(raw)

	if _, ok := Detect(cleaned); ok {
		return cleaned
	}

	switch n := len(cleaned); {
	case n <= 9:
		return defaultCountryCode + defaultAreaCode + cleaned
	case n <= maxBareNationalLen:
		return defaultCountryCode + cleaned
	default:
		return cleaned
	}
}

// Analysis describes one recipient number for batch composition tooling.
type Analysis struct {
	Original    string `json:"original"`
	Cleaned     string `json:"cleaned"`
	CountryCode string `json:"countryCode,omitempty"`
	CountryName string `json:"country"`
	Recognized  bool   `json:"recognized"`
	Formatted   string `json:"formattedNumber"`
}

func Analyze(raw string) Analysis {
	cleaned := digitsOnly(raw)
	a := Analysis{
		Original:    raw,
		Cleaned:     cleaned,
		CountryName: "Unknown",
		Formatted:   Normalize(raw),
	}
	if c, ok := Detect(cleaned); ok {
		a.CountryCode = c.Code
		a.CountryName = c.Name
		a.Recognized = true
	}
	return a
}

// BatchStats summarizes the per-country composition of an uploaded contact
// batch.
type BatchStats struct {
	Total      int            `json:"total"`
	Recognized int            `json:"formatted"`
	ByCountry  map[string]int `json:"byCountry"`
}

func AnalyzeBatch(raws []string) ([]Analysis, BatchStats) {
	results := make([]Analysis, 0, len(raws))
	stats := BatchStats{ByCountry: make(map[string]int)}
	for _, raw := range raws {
		a := Analyze(raw)
		results = append(results, a)
		stats.Total++
		if a.Recognized {
			stats.Recognized++
		}
		stats.ByCountry[a.CountryName]++
	}
	return results, stats
}
