package drivers

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func assertFloats(t testing.TB, got, want, tolerance float64) {
	t.Helper()

	if math.Abs(got-want) > tolerance {
		t.Errorf("got: %f, want: %f", got, want)
	}
}

// recordingBus captures every transmitted frame and answers with a canned
// response, for byte-exact protocol assertions.
type recordingBus struct {
	frames   [][]byte
	response []byte
}

func (rb *recordingBus) Transfer(tx []byte) ([]byte, error) {
	frame := make([]byte, len(tx))
	copy(frame, tx)
	rb.frames = append(rb.frames, frame)

	rx := make([]byte, len(tx))
	copy(rx, rb.response)
	return rx, nil
}

func (rb *recordingBus) Close() error {
	return nil
}

func encodeSample(code int32) (byte, byte, byte) {
	u := uint32(code) & 0xFFFFFF
	return byte(u >> 16), byte(u >> 8), byte(u)
}

func TestDecodeSampleRoundTrip(t *testing.T) {
	t.Run("boundaries", func(t *testing.T) {
		for _, code := range []int32{-1 << 23, -1, 0, 1, 1<<23 - 1} {
			got := DecodeSample(encodeSample(code))
			if got != code {
				t.Errorf("got %d want %d", got, code)
			}
		}
	})

	t.Run("full range sweep", func(t *testing.T) {
		for code := int32(-1 << 23); code < 1<<23-1; code += 4099 {
			got := DecodeSample(encodeSample(code))
			if got != code {
				t.Fatalf("got %d want %d", got, code)
			}
		}
	})

	t.Run("random codes", func(t *testing.T) {
		rnd := rand.New(rand.NewSource(42))
		for i := 0; i < 10000; i++ {
			code := int32(rnd.Intn(1<<24)) - 1<<23
			got := DecodeSample(encodeSample(code))
			if got != code {
				t.Fatalf("got %d want %d", got, code)
			}
		}
	})
}

func TestCodeToVolts(t *testing.T) {
	t.Run("full scale positive", func(t *testing.T) {
		assertFloats(t, CodeToVolts(1<<23-1, 2.5, 1), 2.5, 0)
	})

	t.Run("full scale negative", func(t *testing.T) {
		got := CodeToVolts(-1<<23, 2.5, 1)
		want := -2.5 * float64(1<<23) / float64(1<<23-1)
		assertFloats(t, got, want, 1e-12)
	})

	t.Run("gain divides", func(t *testing.T) {
		for gain := range gainCodes {
			got := CodeToVolts(123456, 2.5, gain)
			want := CodeToVolts(123456, 2.5, 1) / float64(gain)
			assertFloats(t, got, want, 1e-12)
		}
	})
}

func TestWriteRegisterFrame(t *testing.T) {
	bus := &recordingBus{}
	adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

	err := adc.WriteRegister(RegPGA, []byte{0x0B})
	if err != nil {
		t.Fatalf("got error from WriteRegister: %v", err)
	}

	want := []byte{0x40 | RegPGA, 0x00, 0x0B}
	got := bus.frames[0]
	if len(got) != len(want) {
		t.Fatalf("frame length got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame byte %d got %#02x want %#02x", i, got[i], want[i])
		}
	}

	t.Run("address out of range", func(t *testing.T) {
		err := adc.WriteRegister(0x20, []byte{0x00})
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("got %v, want ErrProtocol", err)
		}
	})

	t.Run("empty data", func(t *testing.T) {
		err := adc.WriteRegister(RegPGA, nil)
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("got %v, want ErrProtocol", err)
		}
	})
}

func TestReadRegisterFrame(t *testing.T) {
	bus := &recordingBus{response: []byte{0x00, 0x00, 0xA5, 0x5A}}
	adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

	got, err := adc.ReadRegister(RegREF, 2)
	if err != nil {
		t.Fatalf("got error from ReadRegister: %v", err)
	}

	wantFrame := []byte{0x20 | RegREF, 0x01, 0x00, 0x00}
	frame := bus.frames[0]
	for i := range wantFrame {
		if frame[i] != wantFrame[i] {
			t.Errorf("frame byte %d got %#02x want %#02x", i, frame[i], wantFrame[i])
		}
	}

	if len(got) != 2 || got[0] != 0xA5 || got[1] != 0x5A {
		t.Errorf("got payload %v, want [a5 5a]", got)
	}
}

func TestCommands(t *testing.T) {
	bus := &recordingBus{}
	adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

	adc.StartConversions()
	adc.StopConversions()
	adc.Reset(false)

	want := []byte{0x08, 0x0A, 0x06}
	for i, cmd := range want {
		if len(bus.frames[i]) != 1 || bus.frames[i][0] != cmd {
			t.Errorf("command %d got %v want [%#02x]", i, bus.frames[i], cmd)
		}
	}
}

func TestHardResetPulsesLine(t *testing.T) {
	bus := NewMockBus(2.5)
	resetLine := &MockOutput{state: true}
	adc := NewADS124S08WithBus(1, bus, resetLine, nil, nil)

	err := adc.Reset(true)
	if err != nil {
		t.Fatalf("got error from hard reset: %v", err)
	}

	state, _ := resetLine.GetState()
	if !state {
		t.Error("reset line left low after hard reset")
	}
}

func TestSetInputMuxSingle(t *testing.T) {
	bus := NewMockBus(2.5)
	adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

	err := adc.SetInputMuxSingle(7)
	if err != nil {
		t.Fatalf("got error from SetInputMuxSingle: %v", err)
	}
	if got, want := bus.Register(RegINPMUX), byte(0x7C); got != want {
		t.Errorf("INPMUX got %#02x want %#02x", got, want)
	}

	for _, ain := range []int{-1, 12, 100} {
		if err := adc.SetInputMuxSingle(ain); !errors.Is(err, ErrConfig) {
			t.Errorf("ain %d: got %v, want ErrConfig", ain, err)
		}
	}
}

func TestConfigureBasic(t *testing.T) {
	t.Run("gain one bypasses pga", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

		err := adc.ConfigureBasic(true, 1, nil)
		if err != nil {
			t.Fatalf("got error from ConfigureBasic: %v", err)
		}
		if got := bus.Register(RegPGA); got != 0x00 {
			t.Errorf("PGA got %#02x want 0x00", got)
		}
		if got := bus.Register(RegREF); got != 0x39 {
			t.Errorf("REF got %#02x want 0x39", got)
		}
	})

	t.Run("gain sets enable and code", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

		rate := byte(0x0A)
		err := adc.ConfigureBasic(false, 16, &rate)
		if err != nil {
			t.Fatalf("got error from ConfigureBasic: %v", err)
		}
		if got := bus.Register(RegPGA); got != 0x0C {
			t.Errorf("PGA got %#02x want 0x0c", got)
		}
		if got := bus.Register(RegDATARATE); got != 0x0A {
			t.Errorf("DATARATE got %#02x want 0x0a", got)
		}
	})

	t.Run("invalid gain", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

		err := adc.ConfigureBasic(false, 3, nil)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("got %v, want ErrConfig", err)
		}
	})
}

func TestWaitReady(t *testing.T) {
	t.Run("no line, zero timeout, immediately ready", func(t *testing.T) {
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, nil)

		started := time.Now()
		if !adc.WaitReady(0) {
			t.Error("got not ready, want ready")
		}
		if elapsed := time.Since(started); elapsed > 50*time.Millisecond {
			t.Errorf("took %v, want immediate return", elapsed)
		}
	})

	t.Run("never ready line times out", func(t *testing.T) {
		drdy := &MockInput{State: true} // held high, never ready
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, drdy)

		started := time.Now()
		if adc.WaitReady(20 * time.Millisecond) {
			t.Error("got ready, want timeout")
		}
		if elapsed := time.Since(started); elapsed < 20*time.Millisecond {
			t.Errorf("returned after %v, before the deadline", elapsed)
		}
	})

	t.Run("low line is ready", func(t *testing.T) {
		drdy := &MockInput{State: false}
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, drdy)

		if !adc.WaitReady(time.Second) {
			t.Error("got not ready, want ready")
		}
	})
}

func TestReadChannel(t *testing.T) {
	t.Run("reads constant source", func(t *testing.T) {
		bus := NewMockBus(2.5)
		bus.Sources[4] = ConstantSource(1.25)
		adc := NewADS124S08WithBus(1, bus, nil, nil, &MockInput{})

		_, volts, err := adc.ReadChannel(4, 2.5, 1, true, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("got error from ReadChannel: %v", err)
		}
		assertFloats(t, volts, 1.25, 1e-5)
	})

	t.Run("timeout after mux change", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, &MockInput{State: true})

		_, _, err := adc.ReadChannel(0, 2.5, 1, false, 10*time.Millisecond)
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("got %v, want ErrTimeout", err)
		}
	})

	t.Run("settle discard reads two samples", func(t *testing.T) {
		bus := NewMockBus(2.5)
		bus.Sources[2] = ConstantSource(0.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, &MockInput{})

		rdataBefore := countRdata(t, bus, adc, 2, true)
		rdataAfter := countRdata(t, bus, adc, 2, false)
		if rdataBefore != rdataAfter+1 {
			t.Errorf("settle discard issued %d reads, plain read %d, want one extra", rdataBefore, rdataAfter)
		}
	})

	t.Run("invalid input index", func(t *testing.T) {
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, nil)

		_, _, err := adc.ReadChannel(12, 2.5, 1, false, 0)
		if !errors.Is(err, ErrConfig) {
			t.Errorf("got %v, want ErrConfig", err)
		}
	})
}

// countRdata performs one ReadChannel through a bus wrapper that tallies
// RDATA frames.
func countRdata(t testing.TB, bus *MockBus, adc *ADS124S08, ain int, settle bool) int {
	t.Helper()

	counter := &rdataCounter{inner: bus}
	probe := NewADS124S08WithBus(adc.ID, counter, nil, nil, &MockInput{})
	_, _, err := probe.ReadChannel(ain, 2.5, 1, settle, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("got error from ReadChannel: %v", err)
	}
	return counter.rdata
}

type rdataCounter struct {
	inner *MockBus
	rdata int
}

func (rc *rdataCounter) Transfer(tx []byte) ([]byte, error) {
	if len(tx) > 0 && tx[0] == 0x12 {
		rc.rdata++
	}
	return rc.inner.Transfer(tx)
}

func (rc *rdataCounter) Close() error {
	return rc.inner.Close()
}

func TestExcitation(t *testing.T) {
	t.Run("programs idac and reference", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

		refBefore := bus.Register(RegREF)

		err := adc.EnableExcitation(500, 5, 3)
		if err != nil {
			t.Fatalf("got error from EnableExcitation: %v", err)
		}

		if got := bus.Register(RegIDACMAG); got != 0x05 {
			t.Errorf("IDACMAG got %#02x want 0x05", got)
		}
		if got := bus.Register(RegIDACMUX); got != 0x35 {
			t.Errorf("IDACMUX got %#02x want 0x35", got)
		}
		ref := bus.Register(RegREF)
		if ref&0x0C != 0x04 {
			t.Errorf("REFSEL bits got %#02x want REF1 (0x04)", ref&0x0C)
		}
		if ref&0x03 != 0x01 {
			t.Errorf("REFCON bits got %#02x want internal ref on (0x01)", ref&0x03)
		}
		if !adc.ExcitationEnabled() {
			t.Error("excitation flag not set")
		}

		err = adc.DisableExcitation()
		if err != nil {
			t.Fatalf("got error from DisableExcitation: %v", err)
		}
		if got := bus.Register(RegIDACMAG); got != 0x00 {
			t.Errorf("IDACMAG got %#02x want 0x00 after disable", got)
		}
		if got := bus.Register(RegIDACMUX); got != 0xFF {
			t.Errorf("IDACMUX got %#02x want 0xff after disable", got)
		}
		if got := bus.Register(RegREF); got != refBefore {
			t.Errorf("REF got %#02x want restored %#02x", got, refBefore)
		}
	})

	t.Run("backup survives repeated enable", func(t *testing.T) {
		bus := NewMockBus(2.5)
		adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

		refBefore := bus.Register(RegREF)
		adc.EnableExcitation(500, 5, 3)
		adc.EnableExcitation(1000, 5, 3)
		adc.DisableExcitation()

		if got := bus.Register(RegREF); got != refBefore {
			t.Errorf("REF got %#02x want original %#02x", got, refBefore)
		}
	})

	t.Run("invalid current", func(t *testing.T) {
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, nil)

		for _, ua := range []int{0, 25, 3000} {
			if err := adc.EnableExcitation(ua, 5, 3); !errors.Is(err, ErrConfig) {
				t.Errorf("current %d: got %v, want ErrConfig", ua, err)
			}
		}
	})

	t.Run("invalid routing", func(t *testing.T) {
		adc := NewADS124S08WithBus(1, NewMockBus(2.5), nil, nil, nil)

		if err := adc.EnableExcitation(500, 12, 3); !errors.Is(err, ErrConfig) {
			t.Errorf("got %v, want ErrConfig", err)
		}
	})
}

func TestCodeToRTDResistance(t *testing.T) {
	got := CodeToRTDResistance(1<<23-1, 0, 1)
	assertFloats(t, got, DefaultRrefOhms, 1e-9)

	got = CodeToRTDResistance(1<<22, 1000, 2)
	want := float64(1<<22) / float64(1<<23-1) * 500
	assertFloats(t, got, want, 1e-9)
}

func TestMockBusResetDefaults(t *testing.T) {
	bus := NewMockBus(2.5)
	adc := NewADS124S08WithBus(1, bus, nil, nil, nil)

	adc.StartConversions()
	adc.WriteRegister(RegINPMUX, []byte{0x5C})
	adc.Reset(false)

	if bus.Converting() {
		t.Error("still converting after reset")
	}
	if got := bus.Register(RegINPMUX); got != 0x01 {
		t.Errorf("INPMUX got %#02x want reset default 0x01", got)
	}
	if got := bus.Register(RegIDACMUX); got != 0xFF {
		t.Errorf("IDACMUX got %#02x want reset default 0xff", got)
	}
}

func TestMockBusFailInputs(t *testing.T) {
	bus := NewMockBus(2.5)
	bus.FailInputs[6] = true
	adc := NewADS124S08WithBus(1, bus, nil, nil, &MockInput{})

	_, _, err := adc.ReadChannel(6, 2.5, 1, false, 10*time.Millisecond)
	if err == nil {
		t.Error("got nil error, want simulated read failure")
	}

	_, _, err = adc.ReadChannel(1, 2.5, 1, false, 10*time.Millisecond)
	if err != nil {
		t.Errorf("got error on healthy input: %v", err)
	}
}
