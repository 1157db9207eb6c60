package optimize

import (
	"bytes"
	"testing"
)

var payload = bytes.Repeat([]byte{0xff}, 32*1024)

func BenchmarkBufferPool(b *testing.B) {
	pool := NewBufferPool(64*1024, 1<<20)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf.Write(payload)
		pool.Put(buf)
	}
}

func BenchmarkBufferAllocation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
		buf.Write(payload)
	}
}
