package joypad

import "testing"

func TestReadNoButtonsPressed(t *testing.T) {
	j := New()
	if got := j.Read(); got != 0xFF {
		t.Fatalf("idle JOYP got %02X want FF", got)
	}
}

func TestReadActionButtons(t *testing.T) {
	j := New()
	j.SetButtons(A | Start)
	j.Write(0x10) // clear bit 5: select action buttons

	got := j.Read()
	if got&0x01 != 0 {
		t.Fatalf("A should read low (pressed), got %02X", got)
	}
	if got&0x08 != 0 {
		t.Fatalf("Start should read low (pressed), got %02X", got)
	}
	if got&0x02 == 0 || got&0x04 == 0 {
		t.Fatalf("B/Select should read high (not pressed), got %02X", got)
	}
}

func TestReadDPad(t *testing.T) {
	j := New()
	j.SetButtons(Up | Right)
	j.Write(0x20) // clear bit 4: select d-pad

	got := j.Read()
	if got&0x01 != 0 {
		t.Fatalf("Right should read low, got %02X", got)
	}
	if got&0x04 != 0 {
		t.Fatalf("Up should read low, got %02X", got)
	}
}

func TestWriteOnlyStoresSelectBits(t *testing.T) {
	j := New()
	j.Write(0xFF)
	if got := j.Read(); got&0xC0 != 0xC0 {
		t.Fatalf("top two bits should always read high, got %02X", got)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	j := New()
	j.SetButtons(B | Down)
	j.Write(0x00)

	data := j.SaveState()

	n := New()
	n.LoadState(data)
	if n.Read() != j.Read() {
		t.Fatalf("restored joypad reads %02X want %02X", n.Read(), j.Read())
	}
}
