package store

import "github.com/sitaurs/pterodactyl-claim/types"

// Paginate slices an already sorted result set for stores that filter in memory.
func Paginate[T any](items []T, page, pageSize int) *types.PaginationResult[T] {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	total := len(items)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return types.NewPaginationResult(items[start:end], total, page, pageSize)
}
