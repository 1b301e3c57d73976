package crypto

// Plaintext is a decrypted credential. It must be wiped once used.
type Plaintext struct {
	b []byte
}

// Bytes returns the plaintext. The slice is zeroed by Wipe.
func (p *Plaintext) Bytes() []byte {
	if p == nil {
		return nil
	}
	return p.b
}

// Wipe overwrites the plaintext with zeros. Safe to call more than once.
func (p *Plaintext) Wipe() {
	if p == nil {
		return
	}
	clear(p.b)
	p.b = nil
}

// String never returns the plaintext.
func (p *Plaintext) String() string { return "[REDACTED]" }

// GoString never returns the plaintext.
func (p *Plaintext) GoString() string { return "[REDACTED]" }
