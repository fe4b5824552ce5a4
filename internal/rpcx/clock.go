package rpcx

import "time"

// timeFromMs converts an epoch-milliseconds timestamp, as stored on every
// domain.Inode, to a time.Time for header formatting.
func timeFromMs(ms int64) time.Time {
	return time.UnixMilli(ms)
}
