package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// One number-unit token of a duration string. Units beyond Go's own set are
// handled in parseDurationExtended; everything else is passed through for
// time.ParseDuration to validate.
var durationToken = regexp.MustCompile(`^([0-9]*\.?[0-9]+)([a-zµμ]+)`)

// parseDurationExtended parses Go-style duration strings plus d (24h) and
// w (7d) units. Day units show up for signed URL expiries, which can run up
// to the 7-day presign maximum: "90s", "15m", "1d", "1w".
func parseDurationExtended(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if !strings.ContainsAny(raw, "dw") {
		return time.ParseDuration(raw)
	}

	rest := raw
	var b strings.Builder
	if rest[0] == '+' || rest[0] == '-' {
		b.WriteByte(rest[0])
		rest = rest[1:]
	}
	for len(rest) > 0 {
		m := durationToken.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		value, unit := m[1], m[2]
		switch unit {
		case "d", "w":
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", raw)
			}
			if unit == "w" {
				n *= 7
			}
			b.WriteString(strconv.FormatFloat(n*24, 'f', -1, 64))
			b.WriteByte('h')
		default:
			b.WriteString(m[0])
		}
		rest = rest[len(m[0]):]
	}
	return time.ParseDuration(b.String())
}
