//go:build !linux

package serial

import "fmt"

// OpenPort is only implemented for Linux hosts.
func OpenPort(name string, rate int) (Port, error) {
	return nil, fmt.Errorf("serial: no port support on this platform")
}
