package sen0322

// I2C addresses selectable with the on-board DIP switch.
const (
	Address0 = 0x70
	Address1 = 0x71
	Address2 = 0x72
	Address3 = 0x73

	Address = Address3 // factory default
)

// ValidAddress reports whether addr is one of the switch-selectable addresses.
func ValidAddress(addr uint16) bool {
	switch addr {
	case Address0, Address1, Address2, Address3:
		return true
	}
	return false
}

// Registers.
const (
	RegCollectPhase = 0x01
	RegJudgePhase   = 0x02 // not used by this driver
	RegOxygenData   = 0x03
	RegKey          = 0x05
)

// cmdRequest is written to a register to ask the sensor to stage its content.
const cmdRequest = 0x00
