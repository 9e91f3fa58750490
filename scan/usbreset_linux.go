//go:build linux

package scan

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// RTL2838 dongles as they appear on the USB bus.
const (
	rtlVendorID  = "0bda"
	rtlProductID = "2838"
)

// USBDEVFS_RESET ioctl request ('U' << 8 | 20).
const usbdevfsReset = 0x5514

// ResetSDRs issues a USB-level reset to every attached RTL-SDR. A capture
// tool that produced no output usually means the dongle has locked up and
// stopped delivering samples; a bus reset often revives it without operator
// intervention. Errors are logged and swallowed: the search loop retries
// regardless of whether the reset took.
func ResetSDRs() {
	matches, err := findRTLDevices("/sys/bus/usb/devices")
	if err != nil {
		log.Printf("USB reset: device scan failed: %v", err)
		return
	}
	if len(matches) == 0 {
		log.Printf("USB reset: no RTL-SDR devices found")
		return
	}
	for _, dev := range matches {
		log.Printf("USB reset: resetting %s", dev)
		if err := resetDevice(dev); err != nil {
			log.Printf("USB reset: %s: %v", dev, err)
		}
	}
}

// findRTLDevices walks the sysfs USB tree and returns the usbfs device node
// path for every device matching the RTL2838 vendor:product pair.
func findRTLDevices(sysfsRoot string) ([]string, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, err
	}

	var devices []string
	for _, entry := range entries {
		base := filepath.Join(sysfsRoot, entry.Name())
		vendor, err := readSysfsAttr(filepath.Join(base, "idVendor"))
		if err != nil || vendor != rtlVendorID {
			continue
		}
		product, err := readSysfsAttr(filepath.Join(base, "idProduct"))
		if err != nil || product != rtlProductID {
			continue
		}
		busnum, err := readSysfsInt(filepath.Join(base, "busnum"))
		if err != nil {
			continue
		}
		devnum, err := readSysfsInt(filepath.Join(base, "devnum"))
		if err != nil {
			continue
		}
		devices = append(devices, fmt.Sprintf("/dev/bus/usb/%03d/%03d", busnum, devnum))
	}
	return devices, nil
}

func readSysfsAttr(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsInt(path string) (int, error) {
	s, err := readSysfsAttr(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

func resetDevice(path string) error {
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer unix.Close(fd)

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), usbdevfsReset, 0); errno != 0 {
		return fmt.Errorf("ioctl USBDEVFS_RESET: %w", errno)
	}
	return nil
}
