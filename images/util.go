package images

import (
	"crypto/md5"
	"fmt"

	"gocv.io/x/gocv"
)

// ComputeMatChecksum returns a hex MD5 of a Mat's shape and pixel bytes. Two
// Mats with the same checksum hold identical pixels, which is what the
// determinism tests and request logs rely on.
//
// Arguments:
// - mat: The Mat to hash. Non-continuous Mats are cloned first.
//
// Returns:
// - A hex-encoded checksum, or "empty" for an empty Mat.
func ComputeMatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	src := mat
	if !mat.IsContinuous() {
		src = mat.Clone()
		defer src.Close()
	}

	data, err := src.DataPtrUint8()
	if err != nil {
		return "unreadable"
	}

	hash := md5.New()
	fmt.Fprintf(hash, "%dx%dx%d:%d|", src.Rows(), src.Cols(), src.Channels(), src.Type())
	hash.Write(data)
	return fmt.Sprintf("%x", hash.Sum(nil))
}
