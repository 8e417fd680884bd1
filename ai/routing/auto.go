package routing

import "github.com/hrygo/fincue/ai/network"

// decideAuto maps device capability, task complexity and network state onto a concrete
// strategy. The same ladder serves every task kind.
func (r *Router) decideAuto(complexity float64) Strategy {
	return decideAuto(r.DeviceCapability(), complexity, r.network)
}

func decideAuto(device, complexity float64, net network.Monitor) Strategy {
	connected := net.IsConnected()
	networkGood := connected && !net.IsLowBandwidth()
	switch {
	case !connected:
		return StrategyLocalOnly
	case device >= 0.8 && complexity <= 0.5 && networkGood:
		return StrategyLocalOnly
	case device >= 0.7 && complexity <= 0.7:
		return StrategyLocalFirst
	case complexity > 0.8 || device < 0.5:
		return StrategyRemoteFirst
	default:
		return StrategyHybrid
	}
}
