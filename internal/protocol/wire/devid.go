package wire

import "fmt"

// DeviceType identifies a node family. The inventory pass reads this from
// the device ID parameter and keys register view adapters off it.
type DeviceType uint8

const (
	DevUnknown DeviceType = 0

	// Legacy families kept for ring compatibility; the driver can address
	// them but offers no register views.
	DevNetController DeviceType = 1
	DevTrajGen       DeviceType = 2
	DevServoCtl      DeviceType = 3
	DevIOCluster     DeviceType = 4
	DevDrive         DeviceType = 5

	// Current families.
	DevIntegratedServo DeviceType = 8  // integrated servo motor
	DevCompactMotor    DeviceType = 11 // compact integrated motor
	DevCompactServo    DeviceType = 12 // compact servo with full feature set
)

func (d DeviceType) String() string {
	switch d {
	case DevNetController:
		return "net-controller"
	case DevTrajGen:
		return "traj-gen"
	case DevServoCtl:
		return "servo-ctl"
	case DevIOCluster:
		return "io-cluster"
	case DevDrive:
		return "drive"
	case DevIntegratedServo:
		return "integrated-servo"
	case DevCompactMotor:
		return "compact-motor"
	case DevCompactServo:
		return "compact-servo"
	}
	return "unknown"
}

// DeviceID is the 16-bit packed device identity word: model number in the
// low byte, device type in the high byte.
type DeviceID uint16

// Type returns the device family.
func (id DeviceID) Type() DeviceType {
	return DeviceType(id >> 8)
}

// Model returns the model number within the family.
func (id DeviceID) Model() uint8 {
	return uint8(id)
}

// FWVersion is the 16-bit packed firmware version word.
//
//	[7:0] build   [11:8] minor   [15:12] major
type FWVersion uint16

func (v FWVersion) Major() int { return int(v >> 12 & 0xF) }
func (v FWVersion) Minor() int { return int(v >> 8 & 0xF) }
func (v FWVersion) Build() int { return int(v & 0xFF) }

func (v FWVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Build())
}

// HWVersion is the 16-bit packed hardware revision word: minor revision in
// the low byte, major letter (0=A, 1=B, ...) in the high byte.
type HWVersion uint16

func (v HWVersion) String() string {
	major := byte(v >> 8)
	if major > 25 {
		return fmt.Sprintf("rev%d.%d", major, byte(v))
	}
	return fmt.Sprintf("%c%d", 'A'+major, byte(v))
}
