package sunspec

import (
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

const (
	USE_MOCKED_READER = true
)

func TestInverterInfo(t *testing.T) {

	reader := InverterReader()

	err := reader.Open()
	if err != nil {
		t.Error(err)
	}

	nfo, err := reader.GetInfo()
	if err != nil {
		t.Error(err)
	}
	fmt.Printf("Inverter Info: %+v\n", nfo)
}

func TestPowerFlow(t *testing.T) {

	reader := InverterReader()

	err := reader.Open()
	if err != nil {
		t.Error(err)
	}

	flow, err := reader.GetPowerFlow()
	if err != nil {
		t.Error(err)
	}
	fmt.Printf("Power flow: %+v\n", flow)
}

func TestScaleFactors(t *testing.T) {

	if got := applySF(125, 1); got != 1250 {
		t.Errorf("applySF(125, 1) = %f", got)
	}
	if got := applySF(1250, 0xFFFF); got != 125 { // sf = -1
		t.Errorf("applySF(1250, -1) = %f", got)
	}
	if got := applySFint16(-320, 1); got != -3200 {
		t.Errorf("applySFint16(-320, 1) = %f", got)
	}
}

func RealInverterReader() InverterPowerReader {
	logger := zap.Must(zap.NewDevelopment())
	reader, err := CreateIntSFPowerReader("-.-.-.-", 502, 0, 1*time.Second, logger)
	if err != nil {
		panic(err)
	}
	return reader
}

func MockedInverterReader() InverterPowerReader {
	reader, err := CreateTestInverterPowerReader()
	if err != nil {
		panic(err)
	}
	return reader
}

func InverterReader() InverterPowerReader {
	if USE_MOCKED_READER {
		return MockedInverterReader()
	} else {
		return RealInverterReader()
	}
}
