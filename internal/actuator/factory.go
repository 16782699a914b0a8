package actuator

import (
	"fmt"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/mqtt"
	"dynamic-load-balancer/internal/ocpp"

	"github.com/sirupsen/logrus"
)

// Backend type d'actionneur de courant de charge
type Backend string

const (
	NoBackend   Backend = "none"
	OCPPBackend Backend = "ocpp"
	MQTTBackend Backend = "mqtt"
)

// Sources are the transports a charging actuator can be built on. Either
// may be nil when it is not running.
type Sources struct {
	OCPP *ocpp.Server
	MQTT *mqtt.Client
}

// CreateCharger factory pour créer l'actionneur de charge (nil pour "none")
func CreateCharger(cfg config.ChargingConfig, sources Sources, logger *logrus.Logger) (balancer.ChargingActuator, error) {
	switch Backend(cfg.Backend) {
	case NoBackend, "":
		logger.Info("No charging actuator configured")
		return nil, nil

	case OCPPBackend:
		if sources.OCPP == nil {
			return nil, fmt.Errorf("ocpp backend selected but the OCPP server is not running")
		}
		logger.Infof("Charging actuator: OCPP station %s connector %d", cfg.StationID, cfg.ConnectorID)
		return ocpp.NewStationActuator(sources.OCPP, cfg), nil

	case MQTTBackend:
		if sources.MQTT == nil {
			return nil, fmt.Errorf("mqtt backend selected but no MQTT client is configured")
		}
		logger.Infof("Charging actuator: MQTT %s", cfg.MQTT.CommandTopic)
		return sources.MQTT.Charger(), nil

	default:
		return nil, fmt.Errorf("unknown charging backend: %s", cfg.Backend)
	}
}
