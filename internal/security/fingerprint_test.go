package security

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 158
model name	: Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz
stepping	: 10
cpu MHz		: 3192.000

processor	: 1
vendor_id	: GenuineIntel
cpu family	: 6
model		: 158
model name	: Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz
stepping	: 10
cpu MHz		: 800.000
`

func fakeLinux(files map[string]string, ifaces []net.Interface) *FingerprintManager {
	fm := NewFingerprintManager()
	fm.goos = "linux"
	fm.readFile = func(path string) ([]byte, error) {
		if data, ok := files[path]; ok {
			return []byte(data), nil
		}
		return nil, os.ErrNotExist
	}
	fm.interfaces = func() ([]net.Interface, error) { return ifaces, nil }
	fm.getenv = func(string) string { return "" }
	return fm
}

func mac(s string) net.HardwareAddr {
	hw, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return hw
}

func TestFingerprintManager_Snapshot(t *testing.T) {
	fm := fakeLinux(map[string]string{
		"/proc/cpuinfo":                  sampleCPUInfo,
		"/sys/class/dmi/id/product_uuid": "4C4C4544-0042-3510-8051-B2C04F4E3632\n",
	}, []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback | net.FlagUp, HardwareAddr: nil},
		{Name: "docker0", Flags: net.FlagUp, HardwareAddr: mac("02:42:ac:11:00:02")},
		{Name: "eth0", Flags: net.FlagUp, HardwareAddr: mac("00:1A:2B:3C:4D:5E")},
	})

	snap, err := fm.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "00:1a:2b:3c:4d:5e", snap.MAC)
	assert.Len(t, snap.CPU, 16)
	assert.Equal(t, "4c4c4544-0042-3510-8051-b2c04f4e3632", snap.Board)
}

func TestFingerprintManager_SnapshotCached(t *testing.T) {
	reads := 0
	fm := fakeLinux(map[string]string{"/etc/machine-id": "abc123"}, nil)
	base := fm.readFile
	fm.readFile = func(path string) ([]byte, error) {
		reads++
		return base(path)
	}

	first, err := fm.Snapshot(context.Background())
	require.NoError(t, err)
	n := reads

	second, err := fm.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, n, reads, "second call must be served from cache")

	fm.ClearCache()
	_, err = fm.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Greater(t, reads, n)
}

func TestFingerprintManager_NothingAvailable(t *testing.T) {
	fm := fakeLinux(nil, nil)
	fm.interfaces = func() ([]net.Interface, error) { return nil, errors.New("no netlink") }

	_, err := fm.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestFingerprintManager_MACAddressPrefersUpInterfaces(t *testing.T) {
	fm := fakeLinux(nil, []net.Interface{
		{Name: "eth0", Flags: 0, HardwareAddr: mac("00:00:00:00:00:01")},
		{Name: "wlan0", Flags: net.FlagUp, HardwareAddr: mac("00:00:00:00:00:02")},
		{Name: "veth1234", Flags: net.FlagUp, HardwareAddr: mac("00:00:00:00:00:03")},
	})

	got, err := fm.MACAddress()
	require.NoError(t, err)
	assert.Equal(t, "00:00:00:00:00:02", got)
}

func TestFingerprintManager_WindowsIdentifiers(t *testing.T) {
	fm := NewFingerprintManager()
	fm.goos = "windows"
	env := map[string]string{
		"PROCESSOR_IDENTIFIER": "Intel64 Family 6 Model 158 Stepping 10, GenuineIntel",
		"MACHINE_GUID":         "  0F8D1B2A-1111-2222-3333-444455556666 ",
	}
	fm.getenv = func(k string) string { return env[k] }

	cpu, err := fm.CPUID()
	require.NoError(t, err)
	assert.Equal(t, shortHash(env["PROCESSOR_IDENTIFIER"]), cpu)

	board, err := fm.BoardID()
	require.NoError(t, err)
	assert.Equal(t, "0f8d1b2a-1111-2222-3333-444455556666", board)
}

func TestParseCPUInfo(t *testing.T) {
	got := parseCPUInfo(sampleCPUInfo)
	assert.Contains(t, got, "vendor_id=GenuineIntel")
	assert.Contains(t, got, "model=158")
	assert.NotContains(t, got, "MHz", "clock speed varies between reads")
	assert.Equal(t, got, parseCPUInfo(sampleCPUInfo+"\nprocessor : 2\nvendor_id : GenuineIntel\n"))
}

func TestNormalizeBoardID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"ABC-123\n", "abc-123"},
		{"To Be Filled By O.E.M.", ""},
		{"Default string", ""},
		{"00000000-0000-0000-0000-000000000000", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeBoardID(tt.raw), tt.raw)
	}
}

func TestBoardID_SkipsPlaceholders(t *testing.T) {
	fm := fakeLinux(map[string]string{
		"/sys/class/dmi/id/product_uuid": "00000000-0000-0000-0000-000000000000",
		"/sys/class/dmi/id/board_serial": "None",
		"/etc/machine-id":                "d4f1c0ffee",
	}, nil)

	got, err := fm.BoardID()
	require.NoError(t, err)
	assert.Equal(t, "d4f1c0ffee", got)
}

func TestStaticCollector(t *testing.T) {
	snap, err := StaticCollector(machineA).Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, machineA, snap)
}
