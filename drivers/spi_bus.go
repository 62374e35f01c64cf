package drivers

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const defaultSpiSpeedHz = 1000000

// The SPI peripheral and the rpio memory mapping are shared between both
// converters, so open/close is refcounted and every transfer holds spiMu
// while it reprograms the chip select.
var (
	spiMu        sync.Mutex
	rpioUseCount int
)

func rpioAcquire() error {
	spiMu.Lock()
	defer spiMu.Unlock()

	if rpioUseCount == 0 {
		if err := rpio.Open(); err != nil {
			return errors.Wrap(err, "failed to open rpio")
		}
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			rpio.Close()
			return errors.Wrap(err, "failed to begin spi")
		}
	}
	rpioUseCount++
	return nil
}

func rpioRelease() error {
	spiMu.Lock()
	defer spiMu.Unlock()

	if rpioUseCount == 0 {
		return nil
	}
	rpioUseCount--
	if rpioUseCount == 0 {
		rpio.SpiEnd(rpio.Spi0)
		return rpio.Close()
	}
	return nil
}

// SpiBus drives one chip select of the Raspberry Pi SPI0 peripheral.
// The ADS124S08 requires SPI mode 1.
type SpiBus struct {
	chipSelect uint8
	speedHz    uint32

	open bool
}

func OpenSpiBus(chipSelect uint8, speedHz uint32) (*SpiBus, error) {
	if speedHz == 0 {
		speedHz = defaultSpiSpeedHz
	}

	err := rpioAcquire()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open spi bus (cs %d)", chipSelect)
	}

	return &SpiBus{chipSelect: chipSelect, speedHz: speedHz, open: true}, nil
}

func (sb *SpiBus) Transfer(tx []byte) ([]byte, error) {
	if !sb.open {
		return nil, errors.Errorf("spi bus (cs %d) is closed", sb.chipSelect)
	}
	if len(tx) == 0 {
		return nil, errors.New("empty spi transfer")
	}

	spiMu.Lock()
	defer spiMu.Unlock()

	rpio.SpiSpeed(int(sb.speedHz))
	rpio.SpiMode(0, 1)
	rpio.SpiChipSelect(sb.chipSelect)

	buf := make([]byte, len(tx))
	copy(buf, tx)
	rpio.SpiExchange(buf)

	return buf, nil
}

func (sb *SpiBus) Close() error {
	if !sb.open {
		return nil
	}
	sb.open = false
	return rpioRelease()
}

// GpInput wraps a rpio pin configured as input.
type GpInput struct {
	pin uint8
}

func NewGpInput(pin uint8) *GpInput {
	p := rpio.Pin(pin)
	p.Input()
	return &GpInput{pin: pin}
}

func (gpi *GpInput) GetState() (bool, error) {
	return rpio.Pin(gpi.pin).Read() == rpio.High, nil
}

// GpOutput wraps a rpio pin configured as output, set to an initial level.
type GpOutput struct {
	pin uint8
}

func NewGpOutput(pin uint8, initial bool) *GpOutput {
	p := rpio.Pin(pin)
	p.Output()
	out := &GpOutput{pin: pin}
	out.Set(initial)
	return out
}

func (gpo *GpOutput) Set(state bool) error {
	if state {
		rpio.Pin(gpo.pin).High()
	} else {
		rpio.Pin(gpo.pin).Low()
	}
	return nil
}

func (gpo *GpOutput) GetState() (bool, error) {
	return rpio.Pin(gpo.pin).Read() == rpio.High, nil
}
