package objstore

import "sync"

var payloadBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

var frameBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func releaseFrameBytes(b []byte) {
	if cap(b) > 1024*1024 {
		return // don't pin huge buffers
	}
	frameBytesPool.Put(b[:0])
}
