package frame

import "testing"

func TestCRC16RoundTrip(t *testing.T) {
	buf, err := BuildControl(5, 7, 0, 0)
	if err != nil || len(buf) == 0 {
		t.Fatalf("build failed: %v", err)
	}
	if !Verify(buf) {
		t.Fatalf("verify failed on freshly built frame")
	}
	for i := range buf {
		corrupt := append([]byte(nil), buf...)
		corrupt[i] ^= 0xFF
		if Verify(corrupt) {
			t.Errorf("flipping byte %d still verified", i)
		}
	}
}

func TestBytesOrder(t *testing.T) {
	crc := CRC16(0x0F29)
	b := crc.Bytes()
	if b[0] != 0x0F || b[1] != 0x29 {
		t.Errorf("got %x %x", b[0], b[1])
	}
}
