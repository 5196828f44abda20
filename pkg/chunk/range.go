package chunk

import "fmt"

// Offsets returns the inclusive byte offsets covered by chunk index.
func Offsets(index int, size int64) (start, end int64) {
	start = int64(index) * size
	return start, start + size - 1
}

// Range returns the Range header value for chunk index, e.g. "bytes=15-29"
// for index 1 and size 15.
func Range(index int, size int64) string {
	start, end := Offsets(index, size)
	return fmt.Sprintf("bytes=%d-%d", start, end)
}
