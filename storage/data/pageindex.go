package data

import (
	"sync"

	"github.com/leftmike/soko/storage/page"
)

// pageIndex is an in-memory index of per-page free space, bucketed by
// free-space / threshold. Selecting a page removes it from the index, so a
// page never has two concurrent writers; the caller re-adds it when done.
const (
	intervals = 40
	threshold = page.Size / intervals
)

type pageInfo struct {
	pgno uint32
	free int
}

type pageIndex struct {
	mutex   sync.Mutex
	buckets [intervals + 1][]pageInfo
}

func (pidx *pageIndex) add(pgno uint32, free int) {
	pidx.mutex.Lock()
	defer pidx.mutex.Unlock()

	n := free / threshold
	pidx.buckets[n] = append(pidx.buckets[n], pageInfo{pgno: pgno, free: free})
}

// selectPage removes and returns a page with at least need bytes free.
func (pidx *pageIndex) selectPage(need int) (pageInfo, bool) {
	pidx.mutex.Lock()
	defer pidx.mutex.Unlock()

	n := need / threshold
	if n < intervals {
		n += 1
	}
	for ; n <= intervals; n += 1 {
		// Entries in the top bucket span a whole threshold, so a fit check is
		// still needed there.
		for idx, pi := range pidx.buckets[n] {
			if pi.free < need {
				continue
			}
			pidx.buckets[n] = append(pidx.buckets[n][:idx], pidx.buckets[n][idx+1:]...)
			return pi, true
		}
	}
	return pageInfo{}, false
}
