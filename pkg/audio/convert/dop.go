// ABOUTME: DSD-over-PCM encoding
// ABOUTME: Wraps DSD bytes in marked PCM frames for PCM-only hardware paths
package convert

// DoP marker bytes. A DoP-aware DAC detects the alternating pattern and
// unwraps the DSD payload; everything else plays it as very quiet noise.
const (
	DoPMarkerA = 0x05
	DoPMarkerB = 0xFA
)

// AppendDoP encodes DSD bytes as S32_LE DoP samples, appending to dst.
// Each DSD byte becomes one 32-bit sample holding a 24-bit payload of
// marker<<16 | dsdByte<<8, zero-padded to the container width. Markers
// alternate DoPMarkerA/DoPMarkerB by successive DSD byte. The encoding is
// deterministic and reversible; N input bytes produce exactly 4N output
// bytes.
func AppendDoP(dst, src []byte) []byte {
	for i, b := range src {
		marker := byte(DoPMarkerA)
		if i%2 == 1 {
			marker = DoPMarkerB
		}
		dst = append(dst, 0x00, b, marker, 0x00)
	}
	return dst
}

// EncodeDoP is the allocating form of AppendDoP.
func EncodeDoP(src []byte) []byte {
	return AppendDoP(make([]byte, 0, len(src)*4), src)
}
