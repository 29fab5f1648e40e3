// Package buffers pools the copy buffers used while streaming uploads.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/clinops/intake-tracker/internal/constants"
)

var (
	allocations int64

	copyPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&allocations, 1)
			buf := make([]byte, constants.UploadCopyBufferSize)
			return &buf
		},
	}
)

// GetCopyBuffer retrieves a buffer from the pool. Return it with
// PutCopyBuffer when done.
//
// Usage:
//
//	buf := buffers.GetCopyBuffer()
//	defer buffers.PutCopyBuffer(buf)
//	io.CopyBuffer(dst, src, *buf)
func GetCopyBuffer() *[]byte {
	return copyPool.Get().(*[]byte)
}

// PutCopyBuffer returns a buffer to the pool. Buffers of the wrong size are
// dropped. The contents are cleared first since they may hold patient documents.
func PutCopyBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.UploadCopyBufferSize {
		clear(*buf)
		copyPool.Put(buf)
	}
}

// Allocations returns how many buffers the pool has created.
func Allocations() int64 {
	return atomic.LoadInt64(&allocations)
}
