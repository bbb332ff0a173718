package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector captures the hardware snapshot of the running machine.
type Collector interface {
	Snapshot(ctx context.Context) (HardwareSnapshot, error)
}

// StaticCollector always returns the same snapshot. Useful for tests and for
// hosts that compute identifiers elsewhere.
type StaticCollector HardwareSnapshot

// Snapshot implements Collector.
func (s StaticCollector) Snapshot(context.Context) (HardwareSnapshot, error) {
	return HardwareSnapshot(s), nil
}

// FingerprintManager reads hardware identifiers from the operating system
// and caches the result.
type FingerprintManager struct {
	cache         *HardwareSnapshot
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration

	// overridable for tests
	readFile   func(string) ([]byte, error)
	interfaces func() ([]net.Interface, error)
	getenv     func(string) string
	goos       string
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: 1 * time.Hour,
		readFile:      os.ReadFile,
		interfaces:    net.Interfaces,
		getenv:        os.Getenv,
		goos:          runtime.GOOS,
	}
}

// Snapshot implements Collector. Identifiers that cannot be read are left
// empty; an error is returned only when nothing could be read at all.
func (fm *FingerprintManager) Snapshot(ctx context.Context) (HardwareSnapshot, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return cached, nil
	}
	fm.cacheMutex.RUnlock()

	start := time.Now()
	var snap HardwareSnapshot

	if mac, err := fm.MACAddress(); err == nil {
		snap.MAC = mac
	} else {
		slog.WarnContext(ctx, "MAC address unavailable", slog.String("error", err.Error()))
	}
	if cpu, err := fm.CPUID(); err == nil {
		snap.CPU = cpu
	} else {
		slog.WarnContext(ctx, "CPU id unavailable", slog.String("error", err.Error()))
	}
	if board, err := fm.BoardID(); err == nil {
		snap.Board = board
	} else {
		slog.WarnContext(ctx, "board id unavailable", slog.String("error", err.Error()))
	}

	if snap.IsEmpty() {
		return snap, fmt.Errorf("no hardware identifiers available on %s", fm.goos)
	}

	fm.cacheMutex.Lock()
	fm.cache = &snap
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.DebugContext(ctx, "hardware snapshot collected",
		slog.Bool("mac", snap.MAC != ""),
		slog.Bool("cpu", snap.CPU != ""),
		slog.Bool("board", snap.Board != ""),
		slog.String("hwid", snap.HWID()[:16]),
		slog.Duration("duration", time.Since(start)),
	)
	return snap, nil
}

// MACAddress returns the MAC address of the first physical, non-loopback
// interface in name order.
func (fm *FingerprintManager) MACAddress() (string, error) {
	ifaces, err := fm.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })

	// up interfaces first, then anything with an address
	for _, wantUp := range []bool{true, false} {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			if wantUp && iface.Flags&net.FlagUp == 0 {
				continue
			}
			if isVirtualInterface(iface.Name) {
				continue
			}
			mac := strings.ToLower(iface.HardwareAddr.String())
			if mac != "" && mac != "00:00:00:00:00:00" {
				return mac, nil
			}
		}
	}
	return "", fmt.Errorf("no valid MAC address found")
}

func isVirtualInterface(name string) bool {
	for _, prefix := range []string{"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "utun", "tun", "tap"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// CPUID returns a hashed processor signature.
func (fm *FingerprintManager) CPUID() (string, error) {
	var raw string
	switch fm.goos {
	case "windows":
		raw = fm.getenv("PROCESSOR_IDENTIFIER")
	case "linux":
		data, err := fm.readFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("read /proc/cpuinfo: %w", err)
		}
		raw = parseCPUInfo(string(data))
	default:
		if hostType := fm.getenv("HOSTTYPE"); hostType != "" {
			raw = fm.goos + "-" + runtime.GOARCH + "-" + hostType
		}
	}
	if raw == "" {
		return "", fmt.Errorf("cpu identifier not available on %s", fm.goos)
	}
	return shortHash(raw), nil
}

// parseCPUInfo extracts the stable identifying lines of /proc/cpuinfo.
func parseCPUInfo(data string) string {
	var parts []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(data, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		switch key {
		case "vendor_id", "model name", "cpu family", "model", "stepping", "Serial", "Hardware":
			if seen[key] {
				continue
			}
			seen[key] = true
			parts = append(parts, key+"="+strings.TrimSpace(value))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

// BoardID returns the motherboard or product UUID.
func (fm *FingerprintManager) BoardID() (string, error) {
	switch fm.goos {
	case "linux":
		for _, path := range []string{
			"/sys/class/dmi/id/product_uuid",
			"/sys/class/dmi/id/board_serial",
			"/etc/machine-id",
		} {
			data, err := fm.readFile(path)
			if err != nil {
				continue
			}
			if id := normalizeBoardID(string(data)); id != "" {
				return id, nil
			}
		}
	case "windows":
		if id := normalizeBoardID(fm.getenv("MACHINE_GUID")); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("board identifier not available on %s", fm.goos)
}

func normalizeBoardID(raw string) string {
	id := strings.ToLower(strings.TrimSpace(raw))
	switch id {
	case "", "none", "default string", "to be filled by o.e.m.", "00000000-0000-0000-0000-000000000000":
		return ""
	}
	return id
}

func shortHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// ClearCache clears the cached snapshot
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
