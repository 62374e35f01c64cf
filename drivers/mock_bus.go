package drivers

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// SignalSource produces the simulated voltage on an analog input at a
// given time since the bus was created.
type SignalSource func(elapsed time.Duration) float64

// MockBus emulates an ADS124S08 at the wire level. It decodes the same
// command bytes the real device does (RESET, START, STOP, RDATA, RREG,
// WREG) against an in-memory register map and produces conversion codes
// from per-input signal sources, honoring INPMUX and the PGA gain.
//
// It is a drop-in Bus for the driver, used by tests and by the simulator
// binary when no hardware is attached.
type MockBus struct {
	Vref float64

	// Sources maps analog input index to its simulated signal. AINCOM and
	// inputs without a source read as 0 V.
	Sources map[int]SignalSource

	// FailInputs forces RDATA to fail while the positive mux input is one
	// of the listed indices, for exercising per-channel read failures.
	FailInputs map[int]bool

	mu         sync.Mutex
	regs       [18]byte
	converting bool
	closed     bool
	started    time.Time

	// Writes records every register write as (addr, value) pairs, oldest
	// first, so tests can assert exact protocol traffic.
	Writes [][2]byte
}

func NewMockBus(vref float64) *MockBus {
	mb := &MockBus{
		Vref:       vref,
		Sources:    make(map[int]SignalSource),
		FailInputs: make(map[int]bool),
		started:    time.Now(),
	}
	mb.resetRegs()
	return mb
}

// ConstantSource returns a source pinned at volts.
func ConstantSource(volts float64) SignalSource {
	return func(time.Duration) float64 { return volts }
}

// Datasheet reset values for the registers this driver touches.
func (mb *MockBus) resetRegs() {
	for i := range mb.regs {
		mb.regs[i] = 0
	}
	mb.regs[RegINPMUX] = 0x01
	mb.regs[RegPGA] = 0x00
	mb.regs[RegDATARATE] = 0x14
	mb.regs[RegREF] = 0x10
	mb.regs[RegIDACMAG] = 0x00
	mb.regs[RegIDACMUX] = 0xFF
}

// Register returns the current value of a register, for assertions.
func (mb *MockBus) Register(addr byte) byte {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.regs[addr]
}

// Converting reports whether a START command is in effect.
func (mb *MockBus) Converting() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.converting
}

func (mb *MockBus) Transfer(tx []byte) ([]byte, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return nil, errors.New("mock bus is closed")
	}
	if len(tx) == 0 {
		return nil, errors.New("empty transfer")
	}

	rx := make([]byte, len(tx))

	switch {
	case tx[0] == cmdReset:
		mb.resetRegs()
		mb.converting = false

	case tx[0] == cmdStart:
		mb.converting = true

	case tx[0] == cmdStop:
		mb.converting = false

	case tx[0] == cmdRData:
		if len(tx) < 4 {
			return nil, errors.Errorf("short rdata frame (%d bytes)", len(tx))
		}
		code, err := mb.sampleCode()
		if err != nil {
			return nil, err
		}
		rx[1] = byte(code >> 16)
		rx[2] = byte(code >> 8)
		rx[3] = byte(code)

	case tx[0]&0xE0 == 0x40: // WREG
		addr := tx[0] & 0x1F
		if len(tx) < 2 {
			return nil, errors.New("short wreg frame")
		}
		n := int(tx[1]) + 1
		if len(tx) != 2+n {
			return nil, errors.Errorf("wreg frame length %d does not match count %d", len(tx), n)
		}
		for i := 0; i < n; i++ {
			reg := int(addr) + i
			if reg < len(mb.regs) {
				mb.regs[reg] = tx[2+i]
				mb.Writes = append(mb.Writes, [2]byte{byte(reg), tx[2+i]})
			}
		}

	case tx[0]&0xE0 == 0x20: // RREG
		addr := tx[0] & 0x1F
		if len(tx) < 2 {
			return nil, errors.New("short rreg frame")
		}
		n := int(tx[1]) + 1
		if len(tx) != 2+n {
			return nil, errors.Errorf("rreg frame length %d does not match count %d", len(tx), n)
		}
		for i := 0; i < n; i++ {
			reg := int(addr) + i
			if reg < len(mb.regs) {
				rx[2+i] = mb.regs[reg]
			}
		}

	default:
		return nil, errors.Errorf("unsupported command byte %#02x", tx[0])
	}

	return rx, nil
}

func (mb *MockBus) sampleCode() (int32, error) {
	inpmux := mb.regs[RegINPMUX]
	ainp := int(inpmux >> 4)
	ainn := int(inpmux & 0x0F)

	if mb.FailInputs[ainp] {
		return 0, errors.Errorf("simulated read failure on ain %d", ainp)
	}

	gain := 1
	if mb.regs[RegPGA]&0x08 != 0 {
		gain = 1 << (mb.regs[RegPGA] & 0x07)
	}

	elapsed := time.Since(mb.started)
	diff := mb.sourceVolts(ainp, elapsed) - mb.sourceVolts(ainn, elapsed)

	vref := mb.Vref
	if vref == 0 {
		vref = 2.5
	}

	scaled := diff * float64(gain) / vref * float64(FullScaleCode)
	if scaled > FullScaleCode {
		scaled = FullScaleCode
	}
	if scaled < -(1 << 23) {
		scaled = -(1 << 23)
	}

	return int32(scaled), nil
}

func (mb *MockBus) sourceVolts(ain int, elapsed time.Duration) float64 {
	if ain > MaxAin {
		return 0 // AINCOM and internal mux codes
	}
	src, found := mb.Sources[ain]
	if !found {
		return 0
	}
	return src(elapsed)
}

func (mb *MockBus) Close() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.closed = true
	return nil
}

// MockInput is a settable digital input line.
type MockInput struct {
	State bool
}

func (mi *MockInput) GetState() (bool, error) {
	return mi.State, nil
}

// MockOutput is a digital output line that remembers its state.
type MockOutput struct {
	state bool
}

func (mo *MockOutput) Set(state bool) error {
	mo.state = state
	return nil
}

func (mo *MockOutput) GetState() (bool, error) {
	return mo.state, nil
}
