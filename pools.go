package qmdb

import "sync"

var recordBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func releaseRecordBytes(b []byte) {
	recordBytesPool.Put(b[:0])
}
