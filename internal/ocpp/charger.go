package ocpp

import (
	"context"
	"fmt"

	"dynamic-load-balancer/internal/balancer"
	"dynamic-load-balancer/internal/config"
)

// StationActuator is the charging-current actuator of one OCPP connector.
// The current value is the last limit the station accepted.
type StationActuator struct {
	server      *Server
	stationID   string
	connectorID int
	step        float64
}

func NewStationActuator(server *Server, cfg config.ChargingConfig) *StationActuator {
	return &StationActuator{
		server:      server,
		stationID:   cfg.StationID,
		connectorID: cfg.ConnectorID,
		step:        cfg.Step,
	}
}

func (a *StationActuator) ChargerState(ctx context.Context) (balancer.ChargerState, error) {
	station, err := a.server.Station(a.stationID)
	if err != nil {
		return balancer.ChargerState{}, err
	}
	if !station.Connected() {
		return balancer.ChargerState{}, fmt.Errorf("%w: %s", ErrStationOffline, a.stationID)
	}
	return balancer.ChargerState{
		Value: station.GetCurrentLimit(),
		Min:   station.MinCurrent,
		Max:   station.MaxCurrent,
		Step:  a.step,
	}, nil
}

func (a *StationActuator) SetCurrent(ctx context.Context, amps float64) error {
	return a.server.UpdateCurrentLimit(ctx, a.stationID, a.connectorID, amps)
}

var _ balancer.ChargingActuator = (*StationActuator)(nil)
