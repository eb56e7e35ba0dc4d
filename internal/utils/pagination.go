// Package utils provides small parsing helpers shared by the HTTP handlers
// and the staff client. They carry no domain logic.
package utils

import "strconv"

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty
// or not an integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds n to [lo, hi].
func Clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// Page is a parsed page/page_size pair.
type Page struct {
	Number int
	Size   int
}

// Offset is the row offset of the page.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// ParsePage reads raw page and page_size query values. Missing or invalid
// values take the defaults (page 1, defSize); size is bounded to [1, maxSize].
func ParsePage(rawPage, rawSize string, defSize, maxSize int) Page {
	page := AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	return Page{
		Number: page,
		Size:   Clamp(AtoiDefault(rawSize, defSize), 1, maxSize),
	}
}
