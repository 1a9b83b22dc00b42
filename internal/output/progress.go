package output

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// UsageBar renders a bar for a 0-100 share of a limit, colored by how close
// it is to the limit. Values above 100 fill the bar.
// Example: "████████░░ 80.0%"
func UsageBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int((percent / 100.0) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	style := StyleSuccess
	switch {
	case percent >= 95:
		style = StyleError
	case percent >= 75:
		style = StyleWarning
	}
	return fmt.Sprintf("%s %s", style.Render(bar), StyleMuted.Render(fmt.Sprintf("%.1f%%", percent)))
}

// Number formats n with thousands separators.
func Number(n int64) string {
	return humanize.Comma(n)
}

// Bytes formats a byte count in SI units, e.g. "1.2 kB".
func Bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.Bytes(uint64(-n))
	}
	return humanize.Bytes(uint64(n))
}

// Section prints a styled section header with a horizontal rule.
func Section(title string) string {
	header := StyleHeader.Render(title)
	rule := StyleMuted.Render(strings.Repeat("─", 66))
	return fmt.Sprintf("\n %s\n %s", header, rule)
}

// KeyValue renders a label and value on one line.
func KeyValue(label, value string) string {
	return " " + StyleLabel.Render(label) + StyleValue.Render(value)
}
