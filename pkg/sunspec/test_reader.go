package sunspec

func CreateTestInverterPowerReader() (InverterPowerReader, error) {
	return TestInverterPowerReader{}, nil
}

type TestInverterPowerReader struct {
}

func (inv TestInverterPowerReader) Open() error {
	return nil
}

func (inv TestInverterPowerReader) Close() error {
	return nil
}

func (inv TestInverterPowerReader) GetInfo() (*InverterInfo, error) {
	return &InverterInfo{
		Manufacturer: "Evsun",
		Model:        "Hybrid GEN24 8.0",
		Version:      "1.30.7-1",
		Serial:       "29301000987654",
	}, nil
}

func (inv TestInverterPowerReader) GetPowerFlow() (*PowerFlow, error) {
	return &PowerFlow{
		ACPowerWatt:               520.2,
		PVPowerWatt:               4920.3,
		BatteryChargePowerWatt:    572.45,
		BatteryDischargePowerWatt: 0,
		BatteryStateOfCharge:      63.5,
		HasStorage:                true,
	}, nil
}
