package frame

import "testing"

func TestBuildParseControl(t *testing.T) {
	buf, err := BuildControl(2, 7, 0, 0)
	if err != nil || len(buf) == 0 {
		t.Fatalf("build failed: %v", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if h.Src != 2 || h.Next != 7 {
		t.Errorf("unexpected header %+v", h)
	}
	sections := FindSections(buf)
	if len(sections) != 0 {
		t.Errorf("expected no sections in a token frame, got %d", len(sections))
	}
	if !IsToken(h, sections) {
		t.Error("expected token frame classification")
	}
}

func TestJoinInvitation(t *testing.T) {
	buf, err := BuildControl(1, 0, 5, JoinSentinel)
	if err != nil || len(buf) == 0 {
		t.Fatalf("build failed: %v", err)
	}
	h, _ := ParseHeader(buf)
	if !h.IsJoinInvitation() {
		t.Error("expected join invitation classification")
	}
}

func TestBuildDataWithSections(t *testing.T) {
	sections := []Section{
		{Target: 3, PDU: []byte{0x03, 0x00, 0x00, 0x00, 0x01}},
		{Target: 4, PDU: []byte{0x06, 0x00, 0x05, 0x00, 0x2A}},
	}
	buf, err := BuildData(1, 2, 0, 0, sections)
	if err != nil || len(buf) == 0 {
		t.Fatalf("build failed: %v", err)
	}
	if !Verify(buf) {
		t.Fatalf("verify failed")
	}
	got := FindSections(buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(got))
	}
	if got[0].Target != 3 || got[1].Target != 4 {
		t.Errorf("unexpected targets %+v", got)
	}
	h, _ := ParseHeader(buf)
	if !IsData(got) || IsToken(h, got) {
		t.Error("expected data frame classification")
	}
}

func TestBuildDataOverflowReturnsEmpty(t *testing.T) {
	huge := make([]byte, MaxFrameLen)
	buf, err := BuildData(1, 0, 0, 0, []Section{{Target: 1, PDU: huge}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(buf) != 0 {
		t.Errorf("expected empty buffer on overflow, got %d bytes", len(buf))
	}
}

func TestShortSectionRejected(t *testing.T) {
	// A delimiter followed by fewer than minSection bytes must not be
	// admitted as a section (spec §4.1: body >= 3 bytes).
	buf := []byte{SOF, 1, 2, 0, 0, Delim, 9, 0}
	crc := Compute(buf)
	cb := crc.Bytes()
	buf = append(buf, cb[0], cb[1])
	sections := FindSections(buf)
	if len(sections) != 0 {
		t.Errorf("expected short section to be rejected, got %+v", sections)
	}
}
