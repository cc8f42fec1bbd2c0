package protocol

import (
	"testing"
)

func FuzzDecode(f *testing.F) {
	f.Add([]byte("add 100 2412000 20000 239.203.108.1:12265"))
	f.Add([]byte("join 85 2412000 20000"))
	f.Add([]byte("start"))
	f.Add([]byte("next 3"))
	f.Add([]byte{})
	f.Add([]byte{0xff, 0x00, ' '})

	f.Fuzz(func(t *testing.T, data []byte) {
		d, err := Decode(data)
		if err != nil {
			if d != nil {
				t.Fatalf("Decode returned directive and error: %v", err)
			}
			return
		}
		again, err := Decode(d.Encode())
		if err != nil {
			t.Fatalf("re-decoding %q failed: %v", d.Encode(), err)
		}
		if *again != *d {
			t.Fatalf("round trip mismatch: %+v != %+v", again, d)
		}
	})
}
