//go:build !linux

package posixsandbox

// maxrssToBytes converts ru_maxrss, which Darwin and the BSDs already
// report in bytes, to bytes. This is the identity conversion; it
// exists so callers never need to know the platform-specific unit.
func maxrssToBytes(maxrss int64) uint64 {
	return uint64(maxrss)
}
