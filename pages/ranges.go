package pages

import (
	"slices"
	"strings"
)

// ParsePageRange turns "1-3,5,7-9" into the sorted, distinct one-based page
// numbers it names. Ranges are clamped to [1, maxPages]; single numbers
// outside it and unreadable parts are dropped.
func ParsePageRange(input string, maxPages int) []int {
	seen := make(map[int]bool)
	pages := make([]int, 0)
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			pages = append(pages, n)
		}
	}
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			bounds := strings.Split(part, "-")
			start, ok1 := leadingInt(bounds[0])
			end, ok2 := leadingInt(bounds[1])
			if !ok1 || !ok2 {
				continue
			}
			for i := max(1, start); i <= min(maxPages, end); i++ {
				add(i)
			}
			continue
		}
		if n, ok := leadingInt(part); ok && n >= 1 && n <= maxPages {
			add(n)
		}
	}
	slices.Sort(pages)
	return pages
}

// leadingInt reads the decimal integer at the start of s, ignoring
// anything after it: "12ab" is 12.
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n, digits := 0, 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		if n < 1<<30 {
			n = n*10 + int(s[digits]-'0')
		}
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// MoveItem returns a copy of items with the element at from removed and
// reinserted at to. Indexes outside the slice return an unchanged copy.
func MoveItem[T any](items []T, from, to int) []T {
	out := slices.Clone(items)
	if from < 0 || from >= len(out) || to < 0 || to >= len(out) {
		return out
	}
	v := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, v)
}

// SwapItems returns a copy of items with the element at index swapped with
// its neighbour direction steps away. Moves past either end are ignored.
func SwapItems[T any](items []T, index, direction int) []T {
	out := slices.Clone(items)
	j := index + direction
	if index < 0 || index >= len(out) || j < 0 || j >= len(out) {
		return out
	}
	out[index], out[j] = out[j], out[index]
	return out
}
