package endpoint

import "sync"

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 1<<16)
		return &b
	},
}

func getBuffer() *[]byte { return bufferPool.Get().(*[]byte) }

func putBuffer(b *[]byte) { bufferPool.Put(b) }
