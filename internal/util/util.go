package util

import (
	"github.com/mgarrido/evsun/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		HomeAssistant: config.HomeAssistantConfig{
			BaseURL: "http://localhost:8123",
			Token:   "test-token",
			Entities: config.HAEntitiesConfig{
				BatterySoC:     "sensor.battery_soc",
				BatteryPower:   "sensor.battery_power",
				InverterPower:  "sensor.inverter_power",
				PVPower:        "sensor.pv_power",
				ChargerStatus:  "sensor.charger_status",
				ChargerSwitch:  "switch.charger",
				ChargerCurrent: "number.charger_current",
			},
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "evsun",
		},
		Control: config.ControlConfig{
			LadderAmps:            []int{0, 6, 8, 10, 13, 16, 20, 24},
			LineVoltage:           230,
			SocProbeThreshold:     95,
			SmallDischargeMargin:  200,
			ProbeMaxDischarge:     1000,
			InverterLimit:         8000,
			InverterMargin:        500,
			CooldownSeconds:       5,
			WaitingTimeoutSeconds: 60,
			MinActiveAmps:         6,
			TickPeriodMillis:      1000,
		},
		Port: 8080,
	}
}
