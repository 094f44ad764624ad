// Package thread tracks which goroutine owns a window. Every native and
// content-runtime call must happen on that goroutine.
package thread

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"
)

// ID returns the runtime id of the calling goroutine.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 18 [running]:\n..."
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Owner records the owning goroutine. The zero value is unclaimed.
type Owner struct {
	id atomic.Uint64
}

// Claim makes the calling goroutine the owner if nobody owns it yet and
// reports whether the caller is the owner afterwards.
func (o *Owner) Claim() bool {
	me := ID()
	if o.id.CompareAndSwap(0, me) {
		return true
	}
	return o.id.Load() == me
}

// IsCurrent reports whether the caller owns o. An unclaimed owner is never
// current.
func (o *Owner) IsCurrent() bool {
	id := o.id.Load()
	return id != 0 && id == ID()
}

func (o *Owner) Claimed() bool {
	return o.id.Load() != 0
}

// ID returns the owning goroutine id, 0 when unclaimed.
func (o *Owner) ID() uint64 {
	return o.id.Load()
}
