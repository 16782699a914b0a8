package config

import (
	"dynamic-load-balancer/internal/balancer"
)

// BalancerSettings converts the balancer, devices and notify sections into
// validated core settings. charger may be nil when no charging backend is
// configured.
func (c *Config) BalancerSettings(charger balancer.ChargingActuator) (balancer.Settings, error) {
	aggressiveness, err := balancer.ParseAggressiveness(c.Balancer.Aggressiveness)
	if err != nil {
		return balancer.Settings{}, err
	}

	phases := make([]balancer.Phase, 0, len(c.Balancer.EnabledPhases))
	for _, p := range c.Balancer.EnabledPhases {
		phases = append(phases, balancer.Phase(p))
	}

	settings := balancer.Settings{
		FuseSize:       c.Balancer.FuseSize,
		Aggressiveness: aggressiveness,
		Phases:         phases,
		SpikeFilter:    c.Balancer.SpikeFilterTime,
		Charger:        charger,
		Devices:        c.DeviceIDs(),
		NotifyEnabled:  c.Notify.Enabled,
		NotifyTarget:   c.Notify.Target,
	}
	if err := settings.Validate(); err != nil {
		return balancer.Settings{}, err
	}
	return settings, nil
}
