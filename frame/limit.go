package frame

import "io"

// LimitedReader reads from R until N bytes have been returned. Unlike
// io.LimitedReader it fails with ErrTooLarge when R has more to give, instead
// of reporting a silent EOF, so an oversized input is never mistaken for a
// short one.
type LimitedReader struct {
	R io.Reader
	N int64
}

func LimitReader(r io.Reader, n int64) *LimitedReader {
	return &LimitedReader{R: r, N: n}
}

func (l *LimitedReader) Read(p []byte) (int, error) {
	if l.N <= 0 {
		// Probe for one more byte to tell "exactly N" from "more than N".
		var one [1]byte
		n, err := l.R.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > l.N {
		p = p[:l.N]
	}
	n, err := l.R.Read(p)
	l.N -= int64(n)
	return n, err
}

// Close closes the underlying reader if it implements io.Closer.
func (l *LimitedReader) Close() error {
	if c, ok := l.R.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
