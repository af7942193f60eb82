package storage

import (
	"sync/atomic"
	"time"
)

var (
	lastVersion int64
)

// nextVersion returns a process-wide strictly increasing stamp.
func nextVersion() int64 { return versionAfter(0) }

// versionAfter returns a stamp above both prev and every stamp this process
// handed out before. prev is the version of the record being replaced; another
// writer with a faster clock may have stamped it, so the local clock alone
// does not order the write after it.
func versionAfter(prev int64) int64 {
	for {
		last := atomic.LoadInt64(&lastVersion)
		next := time.Now().UnixNano()
		next = max(next, last+1, prev+1)
		if atomic.CompareAndSwapInt64(&lastVersion, last, next) {
			return next
		}
	}
}
