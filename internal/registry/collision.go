package registry

import "github.com/auraspeak/spectrum/internal/protocol"

// CollisionCallback is told about a channel that overlaps an existing, different channel.
type CollisionCallback func(ch protocol.Channel)

// overlaps compares the spectrum [f-b/2, f+b/2] of both channels.
func overlaps(a, b protocol.Channel) bool {
	f1, b1 := int64(a.Frequency), int64(a.Bandwidth)
	f2, b2 := int64(b.Frequency), int64(b.Bandwidth)
	return 2*f1-b1 <= 2*f2+b2 && 2*f2-b2 <= 2*f1+b1
}

// SetCollisionCallback replaces the advisory overlap callback. nil disables detection.
func (r *Registry) SetCollisionCallback(cb CollisionCallback) {
	r.collision = cb
}

func (r *Registry) checkCollision(ch protocol.Channel) {
	if r.collision == nil {
		return
	}
	for other := range r.entries {
		if other != ch && overlaps(ch, other) {
			r.collision(ch)
			return
		}
	}
}
