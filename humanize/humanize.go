// Package humanize formats sizes, savings and file names for display.
package humanize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders bytes in binary units with at most decimals
// fraction digits and no trailing zeros: 1536 is "1.5 KB".
func FormatFileSize(bytes int64, decimals int) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	decimals = max(decimals, 0)
	i, unit := 0, int64(1)
	for i < len(sizeUnits)-1 && bytes >= unit*1024 {
		i++
		unit *= 1024
	}
	v := float64(bytes) / float64(unit)
	p := math.Pow(10, float64(decimals))
	v = math.Round(v*p) / p
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

// SavingsPercent is how much smaller final is than original, in whole
// percent. Growth reports 0.
func SavingsPercent(original, final int64) int {
	if original <= 0 {
		return 0
	}
	return max(0, int(math.Round((1-float64(final)/float64(original))*100)))
}

// OutputFilename derives a result name: a trailing ".pdf" of any case is
// replaced by suffix and ext. An empty ext means ".pdf".
func OutputFilename(name, suffix, ext string) string {
	if ext == "" {
		ext = ".pdf"
	}
	if n := len(name); n >= 4 && strings.EqualFold(name[n-4:], ".pdf") {
		name = name[:n-4]
	}
	return name + suffix + ext
}

func SelectionInfo(count int) string {
	if count == 1 {
		return "1 page selected"
	}
	return fmt.Sprintf("%d pages selected", count)
}
