package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"

	"github.com/hubertat/servicemaker"

	"github.com/hubertat/daqkit"
)

const defaultHttpAddr = ":5000"

var (
	Version string
	Build   string

	config      = flag.String("config", "config.json", "path of the configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")
	monitor     = flag.Bool("monitor", true, "start monitoring right away")

	daqService = servicemaker.ServiceMaker{
		User:               "daqkit",
		UserGroups:         []string{"gpio", "spi"},
		ServicePath:        "/etc/systemd/system/daqkit.service",
		ServiceDescription: "DaqKit service: ADS124S08 data acquisition and recording. github.com/hubertat/daqkit",
		ExecDir:            "/srv/daqkit",
		ExecName:           "daqkit",
	}
)

func main() {
	log.Printf("daqkit %s started\n", Version)
	flag.Parse()

	if *flagInstall {
		err := daqService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Println("service installed!")
			return
		}
	}

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
		log.Fatalf("can't find/open config file (%s), will terminate. Reason: \n%v\n", *config, err)
	}

	log.Println("will init converters...")
	initErr := dk.InitDevices()
	defer dk.Close()
	if initErr != nil {
		// keep serving: the control surface reports the failure
		log.Printf("converter init failed, starting degraded: %v\n", initErr)
	}

	if dk.Influx != nil {
		err = dk.Influx.Init()
		if err != nil {
			log.Printf("influx output disabled: %v\n", err)
			dk.Influx = nil
		}
	}

	if *monitor && initErr == nil {
		err = dk.StartMonitoring()
		if err != nil {
			log.Printf("failed to start monitoring: %v\n", err)
		}
	}

	addr := dk.HttpAddr
	if len(addr) == 0 {
		addr = defaultHttpAddr
	}
	log.Printf("serving control api on %s\n", addr)
	log.Fatal(dk.StartServer(addr))
}
