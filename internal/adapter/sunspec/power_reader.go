package sunspec

import (
	"context"
	"errors"
	"time"

	"github.com/mgarrido/evsun/internal/config"
	"github.com/mgarrido/evsun/internal/core/domain"
	"github.com/mgarrido/evsun/internal/core/port"
	"github.com/mgarrido/evsun/pkg/sunspec"

	"go.uber.org/zap"
)

const modbusTimeout = 3 * time.Second

// PowerReader adapts a SunSpec inverter reader to the snapshot power values.
// The controller needs the battery state, so an inverter without storage is
// a read error rather than a zeroed snapshot.
type PowerReader struct {
	reader sunspec.InverterPowerReader
}

func NewPowerReader(cfg config.InverterModbusTCPConfig, logger *zap.Logger) (*PowerReader, error) {
	reader, err := sunspec.CreateIntSFPowerReader(cfg.Host, cfg.Port, uint8(cfg.InverterId),
		modbusTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &PowerReader{reader: reader}, nil
}

func NewTestPowerReader() (*PowerReader, error) {
	reader, err := sunspec.CreateTestInverterPowerReader()
	if err != nil {
		return nil, err
	}
	return &PowerReader{reader: reader}, nil
}

func (r *PowerReader) Open() error {
	return r.reader.Open()
}

func (r *PowerReader) Close() error {
	return r.reader.Close()
}

func (r *PowerReader) ReadPowerValues(_ context.Context) (*domain.PowerValues, error) {
	flow, err := r.reader.GetPowerFlow()
	if err != nil {
		return nil, err
	}
	if !flow.HasStorage {
		return nil, errors.New("inverter reports no storage, battery values unavailable")
	}
	return &domain.PowerValues{
		BatterySoC:    flow.BatteryStateOfCharge,
		BatteryPower:  flow.BatteryDischargePowerWatt - flow.BatteryChargePowerWatt,
		InverterPower: flow.ACPowerWatt,
		PVPower:       flow.PVPowerWatt,
	}, nil
}

var _ port.PowerReader = (*PowerReader)(nil)
