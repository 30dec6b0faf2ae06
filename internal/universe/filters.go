package universe

import (
	"strings"
)

// leveragedBlocklist covers the common leveraged/inverse products that slip
// through the type filter on the grouped endpoint.
var leveragedBlocklist = map[string]bool{
	"TQQQ": true, "SQQQ": true, "SPXL": true, "SPXS": true,
	"UPRO": true, "SPXU": true, "UDOW": true, "SDOW": true,
	"SOXL": true, "SOXS": true, "LABU": true, "LABD": true,
	"TNA": true, "TZA": true, "FAS": true, "FAZ": true,
	"YINN": true, "YANG": true, "NUGT": true, "DUST": true,
	"JNUG": true, "JDST": true, "ERX": true, "ERY": true,
	"TECL": true, "TECS": true, "CURE": true, "DRV": true,
	"UVXY": true, "SVXY": true, "VXX": true, "VIXY": true,
	"TMF": true, "TMV": true, "BOIL": true, "KOLD": true,
	"UCO": true, "SCO": true, "AGQ": true, "ZSL": true,
	"SARK": true, "TSLL": true, "TSLQ": true, "NVDL": true,
	"NVD": true, "SSO": true, "SDS": true, "QLD": true, "QID": true,
}

// fundNameKeywords exclude funds, trusts and structured products by name.
var fundNameKeywords = []string{
	"ETF", "ETN", "TRUST", "FUND", "SPDR", "ISHARES", "VANGUARD",
	"PROSHARES", "DIREXION", "INDEX", "WARRANT", "SPAC", "ACQUISITION CORP",
	"PFD", "PREFERRED", "DEPOSITARY", "NOTES DUE", "UNIT", "RIGHTS",
}

// fundTypeCodes are provider security types that are never common stock.
var fundTypeCodes = map[string]bool{
	"ETF": true, "ETN": true, "ETV": true, "ETS": true,
	"FUND": true, "UNIT": true, "RIGHT": true, "WARRANT": true,
	"PFD": true, "SP": true, "BOND": true, "INDEX": true,
}

// symbolPatternExcluded flags symbols whose shape marks a non-common listing:
// warrants (.WS), units (.U), preferreds (.PR*), and test issues.
func symbolPatternExcluded(symbol string) bool {
	if symbol == "" || len(symbol) > 5+3 {
		return true
	}
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		suffix := symbol[i+1:]
		switch {
		case suffix == "U" || suffix == "WS" || suffix == "W" || suffix == "R":
			return true
		case strings.HasPrefix(suffix, "PR"):
			return true
		}
	}
	return false
}

// isFundOrLeveraged applies the static blocklist, symbol pattern check, the
// provider security type when known, and the name keyword list.
func isFundOrLeveraged(symbol, name, securityType string) bool {
	if leveragedBlocklist[symbol] {
		return true
	}
	if symbolPatternExcluded(symbol) {
		return true
	}
	if securityType != "" && fundTypeCodes[strings.ToUpper(securityType)] {
		return true
	}
	if name != "" {
		upper := strings.ToUpper(name)
		for _, kw := range fundNameKeywords {
			if strings.Contains(upper, kw) {
				return true
			}
		}
	}
	return false
}
