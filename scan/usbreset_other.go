//go:build !linux

package scan

import "log"

// ResetSDRs is a no-op off Linux; usbfs resets are a Linux facility.
func ResetSDRs() {
	log.Printf("USB reset: not supported on this platform")
}
