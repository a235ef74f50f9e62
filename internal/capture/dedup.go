package capture

// Deduplicator suppresses an event that is an exact repeat of the
// immediately preceding accepted event on its stream.
//
// The window is 1-deep, not a general dedup set. The key updates only on
// acceptance, so A, A, A collapses to one A but A, B, A keeps all three.
//
// Not safe for concurrent use; the owning pipeline serializes calls.
type Deduplicator struct {
	sender string
	body   string
	seen   bool
}

// Accept reports whether the (sender, body) pair differs from the previous
// accepted pair, and records it as the new key when it does.
func (d *Deduplicator) Accept(sender, body string) bool {
	if d.seen && d.sender == sender && d.body == body {
		return false
	}
	d.sender = sender
	d.body = body
	d.seen = true
	return true
}

// Reset clears the stored key.
func (d *Deduplicator) Reset() {
	*d = Deduplicator{}
}
