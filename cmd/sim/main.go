package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"math"
	"os"
	"time"

	"github.com/hubertat/daqkit"
	"github.com/hubertat/daqkit/drivers"
)

const defaultHttpAddr = ":5000"

var config = flag.String("config", "config.json", "path of the configuration file")

// sineSource builds a slow sine signal for a simulated analog input.
func sineSource(amplitude, offset, freqHz float64) drivers.SignalSource {
	return func(elapsed time.Duration) float64 {
		return offset + amplitude*math.Sin(2*math.Pi*freqHz*elapsed.Seconds())
	}
}

// Runs the full acquisition stack against wire-level mock converters, for
// developing the dashboard and api away from the test stand.
func main() {
	log.Println("daqkit simulator started, no hardware will be touched")
	flag.Parse()

	dk := &daqkit.DaqKit{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		if err != nil {
			log.Fatalf("failed reading config file: %v\n", err)
		}

		err = json.Unmarshal(cBuff, dk)
		if err != nil {
			log.Fatalf("failed unmarshalling json config: %v", err)
		}
	} else {
		log.Printf("no config file (%s), running on defaults\n", *config)
		dk.LoadCells = []*daqkit.LoadCell{{
			Name: "LC1", Adc: 1, SigPlus: 1, SigMinus: 0, Enabled: true,
			ExcitationVoltage: 5.0, Sensitivity: 0.002, MaxLoad: 200,
		}}
		dk.PressureTransducers = []*daqkit.PressureTransducer{{
			Name: "PT1", Adc: 2, Sig: 1, Enabled: true,
			VMin: 0.5, VMax: 4.5, VSpan: 4.0, PMin: 0, PMax: 100,
		}}
	}

	bus1 := drivers.NewMockBus(2.5)
	bus1.Sources[0] = drivers.ConstantSource(0.5)
	bus1.Sources[1] = sineSource(0.001, 0.5005, 0.1)

	bus2 := drivers.NewMockBus(2.5)
	bus2.Sources[1] = sineSource(0.75, 1.5, 0.05)

	err = dk.InitDevicesWithBuses(bus1, bus2, &drivers.MockInput{}, &drivers.MockInput{})
	if err != nil {
		log.Fatalf("failed to init simulated converters: %v", err)
	}
	defer dk.Close()

	err = dk.StartMonitoring()
	if err != nil {
		log.Fatalf("failed to start monitoring: %v", err)
	}

	addr := dk.HttpAddr
	if len(addr) == 0 {
		addr = defaultHttpAddr
	}
	log.Printf("serving control api on %s\n", addr)
	log.Fatal(dk.StartServer(addr))
}
