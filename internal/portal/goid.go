package portal

import (
	"runtime"
	"strconv"
	"strings"
)

// goroutineID returns the id of the calling goroutine, parsed from the
// first line of its stack trace ("goroutine N [running]:").
//
// The runtime does not expose goroutine ids on purpose; the ownership
// token deliberately wants one anyway, to reject cross-goroutine portal
// use with a hard error instead of corrupting the activation stack.
// This runs only on registry mutation, never on data paths.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(s[:i], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
