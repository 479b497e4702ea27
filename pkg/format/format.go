// Package format provides human-readable formatting utilities for save
// summaries and logs.
package format

import (
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Bytes formats a byte count into human-readable format.
// Example: Bytes(1536) => "1.5 KB"
func Bytes(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}

	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	sizes := []string{"KB", "MB", "GB", "TB", "PB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), sizes[exp]) //nolint:gosec // G602: exp max is 4 (1024^6 > int64 max)
}

var printer = message.NewPrinter(language.English)

// Number formats a number with thousand separators.
// Example: Number(1234567) => "1,234,567"
func Number(n int64) string {
	return printer.Sprintf("%d", n)
}

// Percentage formats a percentage value.
// Example: Percentage(45.678, 1) => "45.7%"
func Percentage(value float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, value)
}

// Rate formats an exact rate, dropping the fraction when it is whole.
// Example: Rate(big.NewRat(15, 1), "fps") => "15 fps"; Rate(big.NewRat(75, 7), "fps") => "10.714 fps"
func Rate(r *big.Rat, unit string) string {
	if r == nil {
		return "unknown"
	}
	var s string
	if r.IsInt() {
		s = r.Num().String()
	} else {
		s = strings.TrimRight(strings.TrimRight(r.FloatString(3), "0"), ".")
	}
	if unit == "" {
		return s
	}
	return s + " " + unit
}

// Timecode formats a duration in seconds as h:mm:ss.mmm.
// Example: Timecode(big.NewRat(3725, 2)) => "0:31:02.500"
func Timecode(seconds *big.Rat) string {
	if seconds == nil || seconds.Sign() < 0 {
		return "0:00:00.000"
	}
	ms := new(big.Int).Quo(new(big.Int).Mul(seconds.Num(), big.NewInt(1000)), seconds.Denom()).Int64()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, ms%1000)
}
