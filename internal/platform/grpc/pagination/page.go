// Package pagination normalizes cursor pages for list methods whose
// end-of-data signal is a short or empty page.
package pagination

import (
	"context"
	"fmt"
)

// PageSizeConfig configures page size normalization.
type PageSizeConfig struct {
	Default int
	Max     int
}

// DefaultPageSize is the page size used by adapters when callers pass zero.
var DefaultPageSize = PageSizeConfig{Default: 50, Max: 200}

// Page requests one page of a cursor-based listing. A nil Cursor starts
// from the beginning; a zero Limit lets the backend choose.
type Page struct {
	Cursor *uint64
	Limit  int
}

// ClampPageSize applies defaults and limits for page sizes.
func ClampPageSize(value int, cfg PageSizeConfig) int {
	pageSize := value
	if pageSize <= 0 {
		pageSize = cfg.Default
	}
	if cfg.Max > 0 && pageSize > cfg.Max {
		pageSize = cfg.Max
	}
	if pageSize <= 0 {
		pageSize = 1
	}
	return pageSize
}

// Normalize returns p with its limit clamped by cfg.
func (p Page) Normalize(cfg PageSizeConfig) Page {
	p.Limit = ClampPageSize(p.Limit, cfg)
	return p
}

// After returns the page following the given cursor with the same limit.
func (p Page) After(cursor uint64) Page {
	return Page{Cursor: &cursor, Limit: p.Limit}
}

// IsLastPage reports whether a page of n items ends the listing.
func IsLastPage(n int, limit int) bool {
	return n == 0 || (limit > 0 && n < limit)
}

// Collect fetches pages until a short or empty page, passing the cursor
// derived from each page's last element to the next fetch. maxPages bounds
// the walk; zero means unbounded.
func Collect[T any](ctx context.Context, first Page, maxPages int, fetch func(context.Context, Page) ([]T, error), cursorOf func(T) uint64) ([]T, error) {
	var out []T
	page := first
	for n := 0; maxPages <= 0 || n < maxPages; n++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		items, err := fetch(ctx, page)
		if err != nil {
			return out, fmt.Errorf("fetch page %d: %w", n, err)
		}
		out = append(out, items...)
		if IsLastPage(len(items), page.Limit) {
			return out, nil
		}
		page = page.After(cursorOf(items[len(items)-1]))
	}
	return out, nil
}
