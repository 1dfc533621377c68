package hdhomerun

import "testing"

func TestCorrectDeviceIDProducesValidChecksum(t *testing.T) {
	corrected := CorrectDeviceID(0x12345670)
	if !ValidDeviceID(corrected) {
		t.Fatalf("CorrectDeviceID(0x12345670) = %08X, not checksum-valid", corrected)
	}
	if corrected&^0xF != 0x12345670&^0xF {
		t.Fatalf("CorrectDeviceID changed more than the low nibble: got %08X", corrected)
	}
}

func TestNormalizeDeviceIDGeneratesWhenZero(t *testing.T) {
	id := NormalizeDeviceID(0)
	if id == 0 || !ValidDeviceID(id) {
		t.Fatalf("NormalizeDeviceID(0) = %08X, want nonzero checksum-valid ID", id)
	}
}

func TestNormalizeDeviceIDPassesThroughValidID(t *testing.T) {
	valid := CorrectDeviceID(0x1A2B3C00)
	if NormalizeDeviceID(valid) != valid {
		t.Fatalf("NormalizeDeviceID should not alter an already-valid ID")
	}
}

func TestDeviceUDNIncludesDeviceIDSuffix(t *testing.T) {
	udn := DeviceUDN(0xAABBCCDD)
	if len(udn) < 8 {
		t.Fatalf("unexpected DeviceUDN: %s", udn)
	}
}
