package feed

import (
	"slices"
	"strings"
	"time"
)

// Pagination defaults used by the HTTP layer.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ValidatePage rejects non-positive page numbers and page sizes.
func ValidatePage(page, pageSize int) error {
	if page <= 0 {
		return invalid("page", "must be a positive integer")
	}
	if pageSize <= 0 {
		return invalid("page_size", "must be a positive integer")
	}
	return nil
}

// Paginate sorts items newest first and returns the 1-based page of at most
// pageSize items. Equal timestamps are ordered by id so pages never overlap.
// A page past the end is empty. items is not modified.
func Paginate[T any](items []T, page, pageSize int, createdAt func(T) time.Time, id func(T) string) (Page[T], error) {
	if err := ValidatePage(page, pageSize); err != nil {
		return Page[T]{}, err
	}

	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b T) int {
		if c := createdAt(b).Compare(createdAt(a)); c != 0 {
			return c
		}
		return strings.Compare(id(a), id(b))
	})

	out := Page[T]{Items: []T{}, TotalCount: len(sorted)}
	// Compare page indexes before multiplying; (page-1)*pageSize overflows
	// for huge page numbers.
	if len(sorted) == 0 || page-1 > (len(sorted)-1)/pageSize {
		return out, nil
	}
	offset := (page - 1) * pageSize
	end := offset + min(pageSize, len(sorted)-offset)
	out.Items = sorted[offset:end]
	return out, nil
}
