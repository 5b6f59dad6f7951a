package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// discoverPort finds the first serial device under /dev whose tty name, or
// whose USB "idVendor:idProduct" identity, matches pattern. Names are
// tried in sorted order so repeated discovery after a PortError prefers
// the same device when several match.
func discoverPort(pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("scheduler: bad port pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir("/sys/class/tty")
	if err != nil {
		return "", fmt.Errorf("scheduler: list serial devices: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if !re.MatchString(name) && !re.MatchString(usbIdentity(name)) {
			continue
		}
		devPath := filepath.Join("/dev", name)
		if _, err := os.Stat(devPath); err == nil {
			return devPath, nil
		}
	}
	return "", fmt.Errorf("scheduler: no serial device matches %q", pattern)
}

// usbIdentity reads the "idVendor:idProduct" pair for a /sys/class/tty
// entry backed by a USB device, or "" if it isn't one (a PTY, a platform
// UART, or anything without that sysfs link).
func usbIdentity(ttyName string) string {
	// Resolve the "device" symlink before stepping up to its parent:
	// filepath.Join would otherwise cancel "device/.." lexically.
	dev, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", ttyName, "device"))
	if err != nil {
		return ""
	}
	base := filepath.Dir(dev)
	vendor, err1 := os.ReadFile(filepath.Join(base, "idVendor"))
	product, err2 := os.ReadFile(filepath.Join(base, "idProduct"))
	if err1 != nil || err2 != nil {
		return ""
	}
	return strings.TrimSpace(string(vendor)) + ":" + strings.TrimSpace(string(product))
}
