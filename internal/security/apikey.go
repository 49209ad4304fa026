package security

// ConstantTimeEquals compares two strings without short-circuiting on the
// first differing byte: every byte of equal-length inputs is XOR-accumulated
// before the verdict, so elapsed time does not reveal where the inputs
// diverge. A length mismatch is rejected up front; that leaks only that the
// lengths differ, which is an accepted trade-off for a fixed-length key.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// KeyPrefix returns at most the first 8 characters of a presented key, the
// only part of it that is ever retained for logging.
func KeyPrefix(key string) string {
	if len(key) <= 8 {
		return key
	}
	return key[:8]
}
