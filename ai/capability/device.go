// Package capability scores how much inference work the current device can take on
// and how demanding a given input is.
package capability

// DeviceProfile describes the hardware signals the assessor consumes.
type DeviceProfile struct {
	Cores    int     `json:"cores"`
	MemoryGB float64 `json:"memory_gb"`
	LowPower bool    `json:"low_power"`
}

const lowPowerFactor = 0.7

// DeviceCapability returns a [0,1] estimate of processing capacity for p.
func DeviceCapability(p DeviceProfile) float64 {
	score := 0.5 + coreBonus(p.Cores) + memoryBonus(p.MemoryGB)
	if p.LowPower {
		score *= lowPowerFactor
	}
	return clamp(score)
}

func coreBonus(cores int) float64 {
	switch {
	case cores >= 8:
		return 0.35
	case cores >= 6:
		return 0.25
	case cores >= 4:
		return 0.15
	case cores >= 2:
		return 0.05
	default:
		return 0
	}
}

func memoryBonus(gb float64) float64 {
	switch {
	case gb >= 8:
		return 0.25
	case gb >= 6:
		return 0.20
	case gb >= 4:
		return 0.15
	case gb >= 3:
		return 0.10
	case gb >= 2:
		return 0.05
	default:
		return 0
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
