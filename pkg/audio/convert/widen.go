// ABOUTME: Lossless bit-width widening
// ABOUTME: Sign-extends packed 24-bit samples into 32-bit containers
package convert

import "fmt"

// AppendWidened24To32 converts S24_3LE samples to S32_LE, appending to dst.
// Each 3-byte little-endian sample becomes 4 bytes with the high byte set by
// sign extension, preserving the numeric value exactly.
func AppendWidened24To32(dst, src []byte) ([]byte, error) {
	if len(src)%3 != 0 {
		return dst, fmt.Errorf("widen: %d bytes is not a whole number of 24-bit samples", len(src))
	}

	for i := 0; i < len(src); i += 3 {
		ext := byte(0x00)
		if src[i+2]&0x80 != 0 {
			ext = 0xFF
		}
		dst = append(dst, src[i], src[i+1], src[i+2], ext)
	}
	return dst, nil
}

// Widen24To32 is the allocating form of AppendWidened24To32.
func Widen24To32(src []byte) ([]byte, error) {
	return AppendWidened24To32(make([]byte, 0, len(src)/3*4), src)
}
