package drivers

import (
	"time"

	"github.com/pkg/errors"
)

// Register addresses (subset used by this driver).
const (
	RegINPMUX   = 0x02
	RegPGA      = 0x03
	RegDATARATE = 0x04
	RegREF      = 0x05
	RegIDACMAG  = 0x06
	RegIDACMUX  = 0x07
)

// Command bytes.
const (
	cmdReset = 0x06
	cmdStart = 0x08
	cmdStop  = 0x0A
	cmdRData = 0x12
)

const (
	// AincomCode is the INPMUX nibble selecting AINCOM as an input.
	AincomCode = 0x0C

	// FullScaleCode is the largest positive 24-bit two's complement value.
	FullScaleCode = 1<<23 - 1

	// MinAin and MaxAin bound the analog input index range.
	MinAin = 0
	MaxAin = 11

	// DefaultRrefOhms is the reference resistor between AIN6/AIN7 on the
	// board, used for ratiometric RTD measurements.
	DefaultRrefOhms = 5600.0

	resetPulse  = time.Millisecond
	resetSettle = 5 * time.Millisecond

	idacOffMux = 0xFF
)

// idacCurrentCodes maps an excitation current in microamps to the IMAG
// field of IDACMAG.
var idacCurrentCodes = map[int]byte{
	10:   0x01,
	50:   0x02,
	100:  0x03,
	250:  0x04,
	500:  0x05,
	750:  0x06,
	1000: 0x07,
	1500: 0x08,
	2000: 0x09,
}

// gainCodes maps a PGA gain to its 3-bit GAIN field.
var gainCodes = map[int]byte{1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5, 64: 6, 128: 7}

// AdcConfig describes how one converter is attached to the Pi.
// Line pins are optional: without a reset line hardware reset degrades to
// the RESET command, without a DRDY line ready waiting degrades to a sleep.
type AdcConfig struct {
	SpiDev     uint8
	MaxSpeedHz uint32

	ResetPin *uint8
	StartPin *uint8
	DrdyPin  *uint8
}

// ADS124S08 drives one TI ADS124S08 24-bit delta-sigma converter over a
// register protocol bus. The driver is not internally thread-safe: after
// conversions are started a single goroutine must own all protocol calls.
type ADS124S08 struct {
	ID int

	bus   Bus
	reset DigitalOutput
	start DigitalOutput
	drdy  DigitalInput

	refBackup    *byte
	excitationOn bool
}

// NewADS124S08 opens the SPI bus and GPIO lines from cfg.
func NewADS124S08(id int, cfg AdcConfig) (*ADS124S08, error) {
	bus, err := OpenSpiBus(cfg.SpiDev, cfg.MaxSpeedHz)
	if err != nil {
		return nil, errors.Wrapf(ErrDeviceInit, "adc %d: %v", id, err)
	}

	adc := &ADS124S08{ID: id, bus: bus}
	if cfg.ResetPin != nil {
		adc.reset = NewGpOutput(*cfg.ResetPin, true)
	}
	if cfg.StartPin != nil {
		adc.start = NewGpOutput(*cfg.StartPin, false)
	}
	if cfg.DrdyPin != nil {
		adc.drdy = NewGpInput(*cfg.DrdyPin)
	}

	time.Sleep(resetSettle)
	return adc, nil
}

// NewADS124S08WithBus builds a driver on an externally owned bus and lines.
// Used with the mock bus and in tests; any line may be nil.
func NewADS124S08WithBus(id int, bus Bus, reset, start DigitalOutput, drdy DigitalInput) *ADS124S08 {
	return &ADS124S08{ID: id, bus: bus, reset: reset, start: start, drdy: drdy}
}

func (adc *ADS124S08) sendCommand(cmd byte) error {
	_, err := adc.bus.Transfer([]byte{cmd})
	return err
}

// WriteRegister writes data starting at register addr.
func (adc *ADS124S08) WriteRegister(addr byte, data []byte) error {
	if addr > 0x1F {
		return errors.Wrapf(ErrProtocol, "register address %#02x out of range", addr)
	}
	if len(data) == 0 {
		return errors.Wrap(ErrProtocol, "register write without data")
	}

	tx := append([]byte{0x40 | (addr & 0x1F), byte(len(data) - 1)}, data...)
	_, err := adc.bus.Transfer(tx)
	return errors.Wrapf(err, "adc %d failed to write register %#02x", adc.ID, addr)
}

// ReadRegister reads n bytes starting at register addr. The two echoed
// header bytes of the response are discarded.
func (adc *ADS124S08) ReadRegister(addr byte, n int) ([]byte, error) {
	if addr > 0x1F {
		return nil, errors.Wrapf(ErrProtocol, "register address %#02x out of range", addr)
	}
	if n < 1 {
		return nil, errors.Wrap(ErrProtocol, "register read without count")
	}

	tx := make([]byte, 2+n)
	tx[0] = 0x20 | (addr & 0x1F)
	tx[1] = byte(n - 1)
	rx, err := adc.bus.Transfer(tx)
	if err != nil {
		return nil, errors.Wrapf(err, "adc %d failed to read register %#02x", adc.ID, addr)
	}

	return rx[2:], nil
}

// Reset brings the device to its documented post-reset register state.
// A hard reset pulses the RESET line low; without a wired line it falls
// back to the RESET command. Both variants settle before returning.
func (adc *ADS124S08) Reset(hard bool) error {
	if hard && adc.reset != nil {
		if err := adc.reset.Set(false); err != nil {
			return errors.Wrapf(err, "adc %d failed to pull reset low", adc.ID)
		}
		time.Sleep(resetPulse)
		if err := adc.reset.Set(true); err != nil {
			return errors.Wrapf(err, "adc %d failed to release reset", adc.ID)
		}
	} else {
		if err := adc.sendCommand(cmdReset); err != nil {
			return errors.Wrapf(err, "adc %d failed to send reset command", adc.ID)
		}
	}
	time.Sleep(resetSettle)

	adc.refBackup = nil
	adc.excitationOn = false
	return nil
}

func (adc *ADS124S08) StartConversions() error {
	return errors.Wrapf(adc.sendCommand(cmdStart), "adc %d failed to start conversions", adc.ID)
}

func (adc *ADS124S08) StopConversions() error {
	return errors.Wrapf(adc.sendCommand(cmdStop), "adc %d failed to stop conversions", adc.ID)
}

// ReadSample sends RDATA and decodes the 24-bit two's complement result.
func (adc *ADS124S08) ReadSample() (int32, error) {
	rx, err := adc.bus.Transfer([]byte{cmdRData, 0x00, 0x00, 0x00})
	if err != nil {
		return 0, errors.Wrapf(err, "adc %d failed to read sample", adc.ID)
	}

	return DecodeSample(rx[1], rx[2], rx[3]), nil
}

// DecodeSample sign-extends a big-endian 24-bit two's complement sample.
func DecodeSample(b2, b1, b0 byte) int32 {
	code := int32(b2)<<16 | int32(b1)<<8 | int32(b0)
	if code&0x800000 != 0 {
		code -= 1 << 24
	}
	return code
}

// WaitReady polls DRDY (active low) until the device reports a finished
// conversion or the timeout elapses. Without a wired DRDY line it sleeps
// for the full timeout and reports ready. Never returns an error.
func (adc *ADS124S08) WaitReady(timeout time.Duration) bool {
	if adc.drdy == nil {
		time.Sleep(timeout)
		return true
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		high, err := adc.drdy.GetState()
		if err == nil && !high {
			return true
		}
	}
	return false
}

// SetInputMuxSingle programs INPMUX for single-ended conversion of ain
// against AINCOM.
func (adc *ADS124S08) SetInputMuxSingle(ain int) error {
	if ain < MinAin || ain > MaxAin {
		return errors.Wrapf(ErrConfig, "input index %d outside %d..%d", ain, MinAin, MaxAin)
	}
	val := byte(ain&0x0F)<<4 | AincomCode
	return adc.WriteRegister(RegINPMUX, []byte{val})
}

// ConfigureBasic applies a sane post-reset setup: PGA bypass or gain code,
// optional internal 2.5 V reference and optional data rate register value.
func (adc *ADS124S08) ConfigureBasic(useInternalRef bool, gain int, dataRate *byte) error {
	var pga byte
	if gain != 1 {
		code, ok := gainCodes[gain]
		if !ok {
			return errors.Wrapf(ErrConfig, "gain %d not one of 1,2,4,8,16,32,64,128", gain)
		}
		pga = 1<<3 | code
	}
	if err := adc.WriteRegister(RegPGA, []byte{pga}); err != nil {
		return err
	}

	if useInternalRef {
		if err := adc.WriteRegister(RegREF, []byte{0x39}); err != nil {
			return err
		}
	}

	if dataRate != nil {
		if err := adc.WriteRegister(RegDATARATE, []byte{*dataRate}); err != nil {
			return err
		}
	}

	return nil
}

// ReadChannel selects ain, waits for a conversion with the new mux and
// returns the raw code and voltage. With settleDiscard the first sample
// after the mux change is thrown away and a second conversion is awaited,
// removing the settling transient at the cost of half the throughput.
func (adc *ADS124S08) ReadChannel(ain int, vref float64, gain int, settleDiscard bool, drdyTimeout time.Duration) (int32, float64, error) {
	if err := adc.SetInputMuxSingle(ain); err != nil {
		return 0, 0, err
	}

	if !adc.WaitReady(drdyTimeout) {
		return 0, 0, errors.Wrapf(ErrTimeout, "adc %d ain %d after mux change", adc.ID, ain)
	}
	if settleDiscard {
		if _, err := adc.ReadSample(); err != nil {
			return 0, 0, err
		}
		if !adc.WaitReady(drdyTimeout) {
			return 0, 0, errors.Wrapf(ErrTimeout, "adc %d ain %d settle discard", adc.ID, ain)
		}
	}

	code, err := adc.ReadSample()
	if err != nil {
		return 0, 0, err
	}

	return code, CodeToVolts(code, vref, gain), nil
}

// ReadAllSingleEnded sweeps every analog input not listed in skip and
// returns the voltages by input index. Inputs that fail to read are absent
// from the result.
func (adc *ADS124S08) ReadAllSingleEnded(vref float64, gain int, settleDiscard bool, drdyTimeout time.Duration, skip ...int) map[int]float64 {
	skipped := make(map[int]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	voltages := make(map[int]float64)
	for ain := MinAin; ain <= MaxAin; ain++ {
		if skipped[ain] {
			continue
		}
		_, volts, err := adc.ReadChannel(ain, vref, gain, settleDiscard, drdyTimeout)
		if err != nil {
			continue
		}
		voltages[ain] = volts
	}

	return voltages
}

// EnableExcitation routes the two IDAC constant-current outputs to the
// given analog inputs and switches the conversion reference to REF1 with
// the internal reference enabled, as IDAC operation requires. The previous
// REF register value is saved on the first call and restored by
// DisableExcitation.
//
// The REF register is shared by the whole device: while excitation is on,
// every channel on this converter converts against REF1, not only the RTD
// leads. There is no way to give RTD and non-RTD channels independent
// references short of rewriting REF between channel reads; callers must
// either accept shared-reference readings or serialize reference switching
// themselves.
func (adc *ADS124S08) EnableExcitation(currentUA, idac1Ain, idac2Ain int) error {
	magCode, ok := idacCurrentCodes[currentUA]
	if !ok {
		return errors.Wrapf(ErrConfig, "excitation current %d uA not supported", currentUA)
	}
	if idac1Ain < MinAin || idac1Ain > MaxAin || idac2Ain < MinAin || idac2Ain > MaxAin {
		return errors.Wrapf(ErrConfig, "idac routing %d/%d outside %d..%d", idac1Ain, idac2Ain, MinAin, MaxAin)
	}

	ref, err := adc.ReadRegister(RegREF, 1)
	if err != nil {
		return err
	}
	if adc.refBackup == nil {
		backup := ref[0]
		adc.refBackup = &backup
	}

	// REFSEL = REF1 (AIN6/AIN7), internal reference on.
	val := ref[0]
	val = (val &^ 0x0C) | 0x04
	val = (val &^ 0x03) | 0x01
	if err := adc.WriteRegister(RegREF, []byte{val}); err != nil {
		return err
	}

	if err := adc.WriteRegister(RegIDACMAG, []byte{magCode}); err != nil {
		return err
	}
	mux := byte(idac2Ain&0x0F)<<4 | byte(idac1Ain&0x0F)
	if err := adc.WriteRegister(RegIDACMUX, []byte{mux}); err != nil {
		return err
	}

	adc.excitationOn = true
	return nil
}

// DisableExcitation turns both IDACs off and restores the REF register to
// its value before the first EnableExcitation call.
func (adc *ADS124S08) DisableExcitation() error {
	if err := adc.WriteRegister(RegIDACMAG, []byte{0x00}); err != nil {
		return err
	}
	if err := adc.WriteRegister(RegIDACMUX, []byte{idacOffMux}); err != nil {
		return err
	}
	adc.excitationOn = false

	if adc.refBackup != nil {
		if err := adc.WriteRegister(RegREF, []byte{*adc.refBackup}); err != nil {
			return err
		}
		adc.refBackup = nil
	}

	return nil
}

// ExcitationEnabled reports whether the IDACs are currently routed out.
func (adc *ADS124S08) ExcitationEnabled() bool {
	return adc.excitationOn
}

func (adc *ADS124S08) Close() error {
	return adc.bus.Close()
}

// CodeToVolts converts a raw code to volts for the bipolar transfer
// function, ±vref/gain at full scale. Codes are never clamped here.
func CodeToVolts(code int32, vref float64, gain int) float64 {
	return float64(code) / float64(FullScaleCode) * (vref / float64(gain))
}

// CodeToRTDResistance converts a raw code from a ratiometric RTD
// measurement to resistance, assuming the same IDAC current flows through
// the RTD and the reference resistor selected as REF1.
func CodeToRTDResistance(code int32, rrefOhms float64, gain int) float64 {
	if rrefOhms == 0 {
		rrefOhms = DefaultRrefOhms
	}
	return float64(code) / float64(FullScaleCode) * (rrefOhms / float64(gain))
}
