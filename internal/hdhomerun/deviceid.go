package hdhomerun

import (
	"fmt"

	"github.com/google/uuid"
)

// checksumTable is the published HDHomeRun device-id checksum lookup:
// the low nibble of a valid 8-hex-digit device ID is chosen so that
// XOR-folding every nibble through this table yields checksumValid.
var checksumTable = [16]byte{
	0xa, 0x5, 0xf, 0x6, 0x7, 0xc, 0x1, 0xb,
	0x9, 0x2, 0x8, 0x3, 0x0, 0x4, 0xd, 0xe,
}

const checksumValid = 0xa

func deviceIDChecksum(id uint32) byte {
	var sum byte
	for i := 0; i < 8; i++ {
		sum ^= checksumTable[(id>>uint(i*4))&0xF]
	}
	return sum
}

// ValidDeviceID reports whether id passes the HDHomeRun checksum.
func ValidDeviceID(id uint32) bool {
	return deviceIDChecksum(id) == checksumValid
}

// CorrectDeviceID adjusts id's low nibble to the smallest value that
// passes the checksum, preserving the rest of the ID (spec.md §4.11:
// "invalid IDs are corrected").
func CorrectDeviceID(id uint32) uint32 {
	base := id &^ 0xF
	for nib := uint32(0); nib < 16; nib++ {
		candidate := base | nib
		if ValidDeviceID(candidate) {
			return candidate
		}
	}
	return id
}

// NormalizeDeviceID takes a configured device_id (0 meaning "generate
// one") and returns a checksum-valid ID, generating or correcting as
// needed (spec.md §4.11: "empty IDs are generated").
func NormalizeDeviceID(configured uint32) uint32 {
	if configured == 0 {
		return CorrectDeviceID(0x10000001)
	}
	if ValidDeviceID(configured) {
		return configured
	}
	return CorrectDeviceID(configured)
}

// DeviceUDN builds device_udn: a UUID with a per-device suffix, so two
// devices on the same network never collide even if their UUIDs were
// seeded identically (spec.md §4.11).
func DeviceUDN(deviceID uint32) string {
	return fmt.Sprintf("%s-%08X", uuid.New().String(), deviceID)
}
