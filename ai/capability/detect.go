package capability

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// lowBatteryPercent is the charge below which a discharging device counts as low power.
const lowBatteryPercent = 20

const detectTimeout = 2 * time.Second

// DetectDevice inspects the running host. Memory comes from gopsutil on every platform.
// Battery state is read from sysfs on Linux, pmset on macOS and CIM on Windows.
func DetectDevice() DeviceProfile {
	ctx, cancel := context.WithTimeout(context.Background(), detectTimeout)
	defer cancel()
	return hostDetector().detect(ctx)
}

// detector gathers a DeviceProfile from injectable sources.
type detector struct {
	goos     string
	cores    int
	fsys     fs.FS
	memTotal func(ctx context.Context) (uint64, error)
	run      func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func hostDetector() detector {
	return detector{
		goos:  runtime.GOOS,
		cores: runtime.NumCPU(),
		fsys:  os.DirFS("/"),
		memTotal: func(ctx context.Context) (uint64, error) {
			vm, err := mem.VirtualMemoryWithContext(ctx)
			if err != nil {
				return 0, err
			}
			return vm.Total, nil
		},
		run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

func (d detector) detect(ctx context.Context) DeviceProfile {
	return DeviceProfile{
		Cores:    d.cores,
		MemoryGB: d.memoryGB(ctx),
		LowPower: d.lowPower(ctx),
	}
}

func (d detector) memoryGB(ctx context.Context) float64 {
	if d.memTotal != nil {
		if total, err := d.memTotal(ctx); err == nil && total > 0 {
			return float64(total) / (1 << 30)
		}
	}
	if d.goos == "linux" && d.fsys != nil {
		return memTotalGB(d.fsys)
	}
	return 0
}

func (d detector) lowPower(ctx context.Context) bool {
	switch d.goos {
	case "linux":
		return d.fsys != nil && onLowBattery(d.fsys)
	case "darwin":
		out, err := d.run(ctx, "pmset", "-g", "batt")
		return err == nil && pmsetLowBattery(string(out))
	case "windows":
		out, err := d.run(ctx, "powershell", "-NoProfile", "-Command",
			`Get-CimInstance Win32_Battery | ForEach-Object { "$($_.BatteryStatus) $($_.EstimatedChargeRemaining)" }`)
		return err == nil && cimLowBattery(string(out))
	default:
		return false
	}
}

func memTotalGB(fsys fs.FS) float64 {
	data, err := fs.ReadFile(fsys, "proc/meminfo")
	if err != nil {
		return 0
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0
		}
		return kb / (1024 * 1024)
	}
	return 0
}

func onLowBattery(fsys fs.FS) bool {
	const root = "sys/class/power_supply"
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return false
	}
	for _, e := range entries {
		dir := path.Join(root, e.Name())
		if readTrimmed(fsys, path.Join(dir, "type")) != "Battery" {
			continue
		}
		if readTrimmed(fsys, path.Join(dir, "status")) != "Discharging" {
			continue
		}
		pct, err := strconv.Atoi(readTrimmed(fsys, path.Join(dir, "capacity")))
		if err == nil && pct < lowBatteryPercent {
			return true
		}
	}
	return false
}

// pmsetBattery matches "-InternalBattery-0 (id=123)	15%; discharging; 0:40 remaining".
var pmsetBattery = regexp.MustCompile(`(\d+)%;\s*discharging`)

func pmsetLowBattery(out string) bool {
	for _, m := range pmsetBattery.FindAllStringSubmatch(out, -1) {
		if pct, err := strconv.Atoi(m[1]); err == nil && pct < lowBatteryPercent {
			return true
		}
	}
	return false
}

// cimLowBattery reads "<BatteryStatus> <EstimatedChargeRemaining>" lines. Status 1 means
// the battery is discharging.
func cimLowBattery(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "1" {
			continue
		}
		if pct, err := strconv.Atoi(fields[1]); err == nil && pct < lowBatteryPercent {
			return true
		}
	}
	return false
}

func readTrimmed(fsys fs.FS, name string) string {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
