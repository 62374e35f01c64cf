package daqkit

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/daqkit/drivers"
	"github.com/hubertat/daqkit/recorder"
)

const (
	defaultVref         = 2.5
	defaultGain         = 1
	defaultPollInterval = 200 * time.Millisecond
	defaultDrdyTimeout  = 500 * time.Millisecond
	defaultDataDir      = "data"
)

var (
	ErrNotInitialized = errors.New("converters are not initialized")
	ErrNotMonitoring  = errors.New("monitoring is not running")
	ErrBusy           = errors.New("busy: stop monitoring first")
	ErrAlreadyLogging = errors.New("logging is already in progress")
	ErrNotLogging     = errors.New("logging is not in progress")
)

// State is the acquisition lifecycle position. Logging implies an active
// monitoring loop underneath.
type State int

const (
	StateIdle State = iota
	StateMonitoring
	StateLogging
)

func (s State) String() string {
	switch s {
	case StateMonitoring:
		return "monitoring"
	case StateLogging:
		return "logging"
	default:
		return "idle"
	}
}

// Reading is one channel's result from a poll cycle. Volts entries and
// Value are nil when the underlying read failed.
type Reading struct {
	Volts []*float64
	Value *float64
}

// Snapshot is the latest completed poll cycle, published atomically.
type Snapshot struct {
	Timestamp time.Time
	Readings  map[string]Reading
}

// DaqKit owns both converters, the channel table and the acquisition
// lifecycle. Its exported fields are filled from the JSON config file.
// All control methods are safe for concurrent use; after monitoring has
// started only the poll goroutine talks to the converters.
type DaqKit struct {
	Name    string
	DataDir string

	Vref          float64
	Gain          int
	DataRateCode  *byte
	SettleDiscard bool
	PollInterval  string
	DrdyTimeout   string

	HttpAddr string

	Adc1 *drivers.AdcConfig
	Adc2 *drivers.AdcConfig

	LoadCells           []*LoadCell
	PressureTransducers []*PressureTransducer
	Rtds                []*RTD

	Influx *InfluxOutput

	mu            sync.Mutex
	state         State
	statusMessage string

	adcs    map[int]*drivers.ADS124S08
	initErr error

	order    []Channel
	snapshot Snapshot
	session  *recorder.Session

	cancel       context.CancelFunc
	loopDone     chan struct{}
	pollInterval time.Duration
	drdyTimeout  time.Duration
}

// applyDefaults fills zero-valued knobs and parses the interval strings.
func (dk *DaqKit) applyDefaults() error {
	if dk.Vref == 0 {
		dk.Vref = defaultVref
	}
	if dk.Gain == 0 {
		dk.Gain = defaultGain
	}
	if dk.DataDir == "" {
		dk.DataDir = defaultDataDir
	}

	dk.pollInterval = defaultPollInterval
	if dk.PollInterval != "" {
		parsed, err := time.ParseDuration(dk.PollInterval)
		if err != nil {
			return errors.Wrapf(err, "failed to parse poll interval %q", dk.PollInterval)
		}
		dk.pollInterval = parsed
	}

	dk.drdyTimeout = defaultDrdyTimeout
	if dk.DrdyTimeout != "" {
		parsed, err := time.ParseDuration(dk.DrdyTimeout)
		if err != nil {
			return errors.Wrapf(err, "failed to parse drdy timeout %q", dk.DrdyTimeout)
		}
		dk.drdyTimeout = parsed
	}

	return nil
}

// InitDevices opens both converters over SPI and brings them into a known
// state. A failed converter leaves the manager running degraded: control
// calls keep working and report the failure instead of crashing.
func (dk *DaqKit) InitDevices() error {
	if err := dk.applyDefaults(); err != nil {
		return err
	}

	dk.mu.Lock()
	defer dk.mu.Unlock()

	dk.adcs = make(map[int]*drivers.ADS124S08)

	for id, cfg := range map[int]*drivers.AdcConfig{1: dk.Adc1, 2: dk.Adc2} {
		if cfg == nil {
			continue
		}
		adc, err := drivers.NewADS124S08(id, *cfg)
		if err != nil {
			dk.initErr = err
			dk.statusMessage = "CRITICAL: failed to initialize converters: " + err.Error()
			return err
		}
		dk.adcs[id] = adc
	}

	if err := dk.setupAdcsLocked(); err != nil {
		return err
	}

	dk.statusMessage = "Idle. Converters initialized."
	return nil
}

// InitDevicesWithBuses wires both converters onto externally owned buses
// and DRDY lines: the simulator and the tests use it with drivers.MockBus.
func (dk *DaqKit) InitDevicesWithBuses(bus1, bus2 drivers.Bus, drdy1, drdy2 drivers.DigitalInput) error {
	if err := dk.applyDefaults(); err != nil {
		return err
	}

	dk.mu.Lock()
	defer dk.mu.Unlock()

	dk.adcs = map[int]*drivers.ADS124S08{
		1: drivers.NewADS124S08WithBus(1, bus1, nil, nil, drdy1),
		2: drivers.NewADS124S08WithBus(2, bus2, nil, nil, drdy2),
	}

	if err := dk.setupAdcsLocked(); err != nil {
		return err
	}

	dk.statusMessage = "Idle. Converters initialized."
	return nil
}

func (dk *DaqKit) setupAdcsLocked() error {
	for _, adc := range dk.adcs {
		err := adc.Reset(true)
		if err == nil {
			err = adc.ConfigureBasic(true, dk.Gain, dk.DataRateCode)
		}
		if err != nil {
			dk.initErr = err
			dk.statusMessage = "CRITICAL: failed to initialize converters: " + err.Error()
			return err
		}
	}
	return nil
}

// Channels returns the full channel table in its deterministic order:
// load cells, then pressure transducers, then RTDs.
func (dk *DaqKit) Channels() []Channel {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	return dk.channelsLocked()
}

func (dk *DaqKit) channelsLocked() []Channel {
	channels := make([]Channel, 0, len(dk.LoadCells)+len(dk.PressureTransducers)+len(dk.Rtds))
	for _, lc := range dk.LoadCells {
		channels = append(channels, lc)
	}
	for _, pt := range dk.PressureTransducers {
		channels = append(channels, pt)
	}
	for _, rtd := range dk.Rtds {
		channels = append(channels, rtd)
	}
	return channels
}

func (dk *DaqKit) enabledChannelsLocked() []Channel {
	var enabled []Channel
	for _, ch := range dk.channelsLocked() {
		if ch.IsEnabled() {
			enabled = append(enabled, ch)
		}
	}
	return enabled
}

// SetChannels replaces the channel table. Rejected while monitoring or
// logging: the frozen channel order of a running session never changes,
// the new table applies from the next monitoring start.
func (dk *DaqKit) SetChannels(loadCells []*LoadCell, pressureTransducers []*PressureTransducer, rtds []*RTD) error {
	dk.mu.Lock()
	defer dk.mu.Unlock()

	if dk.state != StateIdle {
		return errors.Wrapf(ErrBusy, "cannot change channels while %s", dk.state)
	}

	dk.LoadCells = loadCells
	dk.PressureTransducers = pressureTransducers
	dk.Rtds = rtds
	dk.statusMessage = "Idle. Channel config updated."
	return nil
}

// Close stops everything and releases both converters.
func (dk *DaqKit) Close() (err error) {
	stopErr := dk.StopMonitoring()
	if stopErr != nil {
		err = stopErr
	}

	dk.mu.Lock()
	defer dk.mu.Unlock()

	for _, adc := range dk.adcs {
		closeErr := adc.Close()
		if closeErr != nil {
			err = errors.Wrap(closeErr, "failed to close converter")
		}
	}
	dk.adcs = nil

	if dk.Influx != nil {
		dk.Influx.Close()
	}

	log.Info("daqkit closed")
	return
}
