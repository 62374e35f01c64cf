package daqkit

const (
	defaultRtdCurrentUA = 500
	defaultRtdIdac1Ain  = 5
	defaultRtdIdac2Ain  = 3
)

// RTD reads a resistance thermometer across two lead inputs, excited by
// the converter's constant-current sources.
//
// Note that the reference register is shared per device: enabling RTD
// excitation switches the reference for every channel on that converter,
// RTD or not. See drivers.ADS124S08.EnableExcitation.
type RTD struct {
	Name    string
	Adc     int
	Lead1   int
	Lead2   int
	Enabled bool

	// ExcitationCurrentUA and the IDAC routing pins configure the
	// constant-current excitation; zero values fall back to the board
	// defaults (500 uA out of AIN5 and AIN3).
	ExcitationCurrentUA int
	Idac1Ain            int
	Idac2Ain            int

	Offset float64
}

func (rtd *RTD) Label() string {
	return rtd.Name
}

func (rtd *RTD) AdcID() int {
	return rtd.Adc
}

func (rtd *RTD) IsEnabled() bool {
	return rtd.Enabled
}

func (rtd *RTD) Inputs() []int {
	return []int{rtd.Lead1, rtd.Lead2}
}

func (rtd *RTD) Columns() []string {
	return []string{rtd.Name + "_L1", rtd.Name + "_L2"}
}

// Convert is not implemented yet: the lead-voltage to temperature
// conversion for this probe is still pending, so the derived value is
// always zero (minus the configured offset). The raw lead voltages are
// still recorded.
func (rtd *RTD) Convert(volts []float64) float64 {
	return 0 - rtd.Offset
}

func (rtd *RTD) currentUA() int {
	if rtd.ExcitationCurrentUA == 0 {
		return defaultRtdCurrentUA
	}
	return rtd.ExcitationCurrentUA
}

func (rtd *RTD) idacPins() (int, int) {
	idac1, idac2 := rtd.Idac1Ain, rtd.Idac2Ain
	if idac1 == 0 && idac2 == 0 {
		return defaultRtdIdac1Ain, defaultRtdIdac2Ain
	}
	return idac1, idac2
}
