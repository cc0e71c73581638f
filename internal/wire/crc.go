package wire

// crc16 implements CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no
// reflection, no final xor. Check value for "123456789" is 0x29B1.
// Interoperating firmware computes the same polynomial in C, so this
// must stay bit-for-bit identical.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// FrameChecksum computes the integrity checksum carried in a frame
// trailer: CRC-16 over every byte preceding the checksum field.
func FrameChecksum(frameBytes []byte) uint16 {
	return crc16(frameBytes)
}

// DedupChecksum computes the duplicate-suppression key for a complete
// raw frame (including the trailer). Kept distinct from FrameChecksum:
// integrity and dedup are different concepts that happen to share a
// primitive, and they run over different byte ranges.
func DedupChecksum(raw []byte) uint16 {
	return crc16(raw)
}
