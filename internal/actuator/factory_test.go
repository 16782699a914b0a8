package actuator

import (
	"testing"

	"dynamic-load-balancer/internal/config"
	"dynamic-load-balancer/internal/mqtt"
	"dynamic-load-balancer/internal/ocpp"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCharger(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &config.Config{
		MQTT: config.MQTTConfig{Broker: "tcp://localhost:1883", TopicPrefix: "dlb"},
		Charging: config.ChargingConfig{
			StationID:   "wallbox",
			ConnectorID: 1,
			MinCurrent:  6,
			MaxCurrent:  16,
			Step:        1,
			MQTT:        config.ChargingTopicConfig{CommandTopic: "evse/set"},
		},
	}
	mqttClient, err := mqtt.NewClient(cfg, logger)
	require.NoError(t, err)
	sources := Sources{OCPP: ocpp.NewServer(cfg, logger), MQTT: mqttClient}

	cases := []struct {
		backend string
		sources Sources
		wantNil bool
		wantErr bool
		wantTyp interface{}
	}{
		{backend: "none", sources: sources, wantNil: true},
		{backend: "", sources: sources, wantNil: true},
		{backend: "ocpp", sources: sources, wantTyp: &ocpp.StationActuator{}},
		{backend: "mqtt", sources: sources, wantTyp: &mqtt.Charger{}},
		{backend: "ocpp", sources: Sources{}, wantErr: true},
		{backend: "mqtt", sources: Sources{}, wantErr: true},
		{backend: "modbus", sources: sources, wantErr: true},
	}
	for _, tc := range cases {
		chargingCfg := cfg.Charging
		chargingCfg.Backend = tc.backend

		charger, err := CreateCharger(chargingCfg, tc.sources, logger)
		if tc.wantErr {
			assert.Error(t, err, tc.backend)
			continue
		}
		require.NoError(t, err, tc.backend)
		if tc.wantNil {
			assert.Nil(t, charger, tc.backend)
			continue
		}
		assert.IsType(t, tc.wantTyp, charger, tc.backend)
	}
}
