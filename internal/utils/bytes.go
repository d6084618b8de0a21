package utils

// CopyBytes returns a defensive copy of b so callers can't mutate
// internal state through a returned slice.
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}