package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_CONTROL_MODE       = "control_mode"
	SENSOR_ID_CHARGER_AMPS       = "charger_amps"
	SENSOR_ID_CHARGING_POWER     = "charging_power"
	SENSOR_ID_EXCESS_POWER       = "excess_power"
	SENSOR_ID_BATTERY_SOC        = "battery_soc"
	SENSOR_ID_BATTERY_POWER_FLOW = "battery_power_flow"
	SENSOR_ID_INVERTER_AC_POWER  = "inverter_ac_power"
	SENSOR_ID_LAST_REASON        = "last_reason"
	SWITCH_ID_AUTO_ENABLE        = "auto_enable"

	STATE_CLASS_MEASUREMENT   = "measurement"
	DEVICE_CLASS_BATTERY      = "battery"
	DEVICE_CLASS_CURRENT      = "current"
	DEVICE_CLASS_POWER        = "power"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC   = "diagnostic"
	SENSOR_TYPE_SENSOR        = "sensor"
	SENSOR_TYPE_BINARY        = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("evsun_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "mgarrido",
		Model:        "Evsun",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Evsun %s", md5HashShort(baseTopic)),
	}
}

func ControllerDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("evsun_controller_%s", md5HashShort(baseTopic)),
		Manufacturer: "mgarrido",
		Model:        "Evsun solar charge controller",
		Version:      versioninfo.Short(),
		Name:         "EV charge controller",
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{
		{
			Device:         bridgeDevice,
			Id:             SENSOR_ID_BRIDGE_STATE,
			SensorType:     SENSOR_TYPE_BINARY,
			Name:           "Bridge state",
			DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
		},
	}
}

// ControllerSensors are the observability entities published after every
// control tick.
func ControllerSensors(device Device) []GenericSensor {
	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:     device,
		Id:         SENSOR_ID_CONTROL_MODE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Control mode",
		Icon:       "mdi:state-machine",
		UniqueId:   uniqueId(device.Id, SENSOR_ID_CONTROL_MODE),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_CHARGER_AMPS,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charger current",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		Icon:              "mdi:ev-station",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_CHARGER_AMPS),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_CHARGING_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charging power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_CHARGING_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_EXCESS_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Excess solar power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		Icon:              "mdi:solar-power",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_EXCESS_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_BATTERY_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_SOC),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_BATTERY_POWER_FLOW,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery power flow",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_POWER_FLOW),
	})

	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_INVERTER_AC_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Inverter AC power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_INVERTER_AC_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:         device,
		Id:             SENSOR_ID_LAST_REASON,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Last decision reason",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, SENSOR_ID_LAST_REASON),
	})

	return sensors
}

func ControllerSwitches(device Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   device,
			Id:       SWITCH_ID_AUTO_ENABLE,
			Name:     "Solar charging auto enable",
			Icon:     "mdi:car-electric",
			UniqueId: uniqueId(device.Id, SWITCH_ID_AUTO_ENABLE),
		},
	}
}

func uniqueId(deviceId, sensorId string) string {
	return fmt.Sprintf("%s_%s", deviceId, sensorId)
}

func md5HashShort(value string) string {
	hash := md5.Sum([]byte(value))
	return hex.EncodeToString(hash[:])[:8]
}
