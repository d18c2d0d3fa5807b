package ibus

// Checksum XOR-folds b. For a frame, b is every byte from the source address
// up to but excluding the trailing checksum byte: source, length,
// destination and payload.
func Checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}

// ValidChecksum reports whether the XOR fold of headerAndPayload equals
// checksum. headerAndPayload must not include the checksum byte itself.
func ValidChecksum(headerAndPayload []byte, checksum byte) bool {
	return Checksum(headerAndPayload) == checksum
}
