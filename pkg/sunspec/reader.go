// Package sunspec reads the power flow of a SunSpec-compatible hybrid
// inverter (int+SF register maps) over Modbus TCP.
package sunspec

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// InverterPowerReader reads the instantaneous power flow and battery state
// of one inverter.
type InverterPowerReader interface {
	Open() error
	Close() error
	// GetInfo reads the common block device identity.
	GetInfo() (*InverterInfo, error)
	// GetPowerFlow reads one consistent power/battery sample.
	GetPowerFlow() (*PowerFlow, error)
}

type InverterInfo struct {
	Manufacturer string
	Model        string
	Version      string
	Serial       string
}

type PowerFlow struct {
	ACPowerWatt               float64
	PVPowerWatt               float64
	BatteryChargePowerWatt    float64
	BatteryDischargePowerWatt float64
	BatteryStateOfCharge      float64
	HasStorage                bool
}

type IntSFPowerReader struct {
	client *modbus.ModbusClient
	logger *zap.Logger
	blocks modbusBlocks
}

func CreateIntSFPowerReader(host string, port uint, unitId uint8, timeout time.Duration,
	logger *zap.Logger) (InverterPowerReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if unitId > 0 {
		if err := client.SetUnitId(unitId); err != nil {
			return nil, err
		}
	}
	return &IntSFPowerReader{
		client: client,
		logger: logger,
	}, nil
}

func (inv *IntSFPowerReader) Open() error {
	if err := inv.client.Open(); err != nil {
		return err
	}
	if err := inv.survey(); err != nil {
		return err
	}
	inv.logger.Debug("sunspec blocks surveyed",
		zap.Uint16("inverter", inv.blocks.inverter),
		zap.Uint16("mppt", inv.blocks.mppt),
		zap.Uint16("storage", inv.blocks.storage))
	return nil
}

func (inv *IntSFPowerReader) Close() error {
	return inv.client.Close()
}

func (inv *IntSFPowerReader) GetInfo() (*InverterInfo, error) {
	manufacturer, err := inv.readString(inv.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := inv.readString(inv.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := inv.readString(inv.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := inv.readString(inv.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}
	return &InverterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (inv *IntSFPowerReader) GetPowerFlow() (*PowerFlow, error) {
	// ac power: W + W_SF
	acpower, err := inv.client.ReadRegisters(inv.blocks.inverter+14, 2, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	dcPowerSF, err := inv.client.ReadRegister(inv.blocks.mppt+4, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	nMods, err := inv.client.ReadRegister(inv.blocks.mppt+8, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}

	// module layout: 1-2 PV strings, optionally followed by a battery
	// charge/discharge module pair
	var pvPower, chargePower, dischargePower float64
	if nMods > 0 {
		power, err := inv.readModulePower(0)
		if err != nil {
			return nil, err
		}
		pvPower += applySF(power, dcPowerSF)
	}
	if nMods == 2 || nMods == 4 {
		power, err := inv.readModulePower(1)
		if err != nil {
			return nil, err
		}
		pvPower += applySF(power, dcPowerSF)
	}
	hasStorage := nMods == 3 || nMods == 4
	if hasStorage {
		chargeRaw, err := inv.readModulePower(uint8(nMods - 2))
		if err != nil {
			return nil, err
		}
		chargePower = applySF(chargeRaw, dcPowerSF)
		dischargeRaw, err := inv.readModulePower(uint8(nMods - 1))
		if err != nil {
			return nil, err
		}
		dischargePower = applySF(dischargeRaw, dcPowerSF)
	}

	flow := &PowerFlow{
		ACPowerWatt:               applySFint16(int16(acpower[0]), acpower[1]),
		PVPowerWatt:               pvPower,
		BatteryChargePowerWatt:    chargePower,
		BatteryDischargePowerWatt: dischargePower,
		HasStorage:                hasStorage && inv.blocks.storage > 0,
	}

	if flow.HasStorage {
		soc, err := inv.readStateOfCharge()
		if err != nil {
			return nil, err
		}
		flow.BatteryStateOfCharge = soc
	}

	return flow, nil
}

func (inv *IntSFPowerReader) readModulePower(index uint8) (uint16, error) {
	baseAddr := inv.blocks.mppt + 10 + 20*uint16(index)
	power, err := inv.client.ReadRegister(baseAddr+11, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	// not-implemented marker
	if int16(power) == -1 {
		power = 0
	}
	return power, nil
}

func (inv *IntSFPowerReader) readStateOfCharge() (float64, error) {
	regs, err := inv.client.ReadRegisters(inv.blocks.storage+2, 24, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	soc := applySF(regs[6], regs[20])
	// storage off reads as full-scale garbage on some firmwares
	if regs[9] == storageChargeStatusOff {
		soc = 0
	}
	return soc, nil
}

const storageChargeStatusOff = 1

func (inv *IntSFPowerReader) readString(address uint16, size uint16) (string, error) {
	bytes, err := inv.client.ReadRawBytes(address, size, modbus.HOLDING_REGISTER)
	if err != nil {
		return "", err
	}
	f := slices.Index(bytes, 0x00)
	if f >= 0 {
		return string(bytes[:f]), nil
	}
	return string(bytes), nil
}

func applySF(number uint16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}

func applySFint16(number int16, sf uint16) float64 {
	return float64(number) * math.Pow(10, float64(int16(sf)))
}
