package safecodec

import "sync"

// maxPooledSize keeps one oversized encode from pinning a large buffer in the
// pool forever.
const maxPooledSize = 64 * 1024

// writerPool reuses encode buffers. Encoded output is always copied out before
// the Writer goes back into the pool.
var writerPool = sync.Pool{
	New: func() any {
		// A 4KB default is chosen to avoid re-allocations for common record sizes.
		return NewWriter(make([]byte, 0, 4096))
	},
}

func getWriter() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

func putWriter(w *Writer) {
	if cap(w.buf) > maxPooledSize {
		return
	}
	writerPool.Put(w)
}
