package registry

import (
	"fmt"
	"io"

	"github.com/auraspeak/spectrum/internal/protocol"
)

// List writes a human readable channel table to w.
func (r *Registry) List(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%10s %10s  %-21s%5s %10s  USERS\n",
		"FREQUENCY", "BANDWIDTH", "ADDRESS", "NODES", "OWNER"); err != nil {
		return err
	}
	for _, rec := range r.sorted() {
		if _, err := fmt.Fprintf(w, "%10d %10d  %-21s%5d %10d ",
			rec.Frequency, rec.Bandwidth, protocol.FormatAddress(rec.Address), rec.NUsers, rec.OwnerNodeID); err != nil {
			return err
		}
		for _, id := range rec.users {
			if _, err := fmt.Fprintf(w, " %d", id); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	state := " halted\n"
	if r.running {
		state = " running\n"
	}
	_, err := io.WriteString(w, state)
	return err
}
