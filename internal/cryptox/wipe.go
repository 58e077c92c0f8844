package cryptox

// Wipe overwrites b with zeros so a plaintext password does not linger in
// memory after it has been hashed. A nil slice is a no-op.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
