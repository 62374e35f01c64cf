package daqkit

// PressureTransducer reads a ratiometric pressure sensor from a single
// input. The signal voltage is clamped to [VMin, VMax] before scaling.
type PressureTransducer struct {
	Name    string
	Adc     int
	Sig     int
	Enabled bool

	ExcitationVoltage float64
	VMin              float64
	VMax              float64
	VSpan             float64
	PMin              float64
	PMax              float64
	Offset            float64
}

func (pt *PressureTransducer) Label() string {
	return pt.Name
}

func (pt *PressureTransducer) AdcID() int {
	return pt.Adc
}

func (pt *PressureTransducer) IsEnabled() bool {
	return pt.Enabled
}

func (pt *PressureTransducer) Inputs() []int {
	return []int{pt.Sig}
}

func (pt *PressureTransducer) Columns() []string {
	return []string{pt.Name + "_SIG"}
}

func (pt *PressureTransducer) Convert(volts []float64) float64 {
	if pt.VSpan == 0 {
		return 0
	}

	v := volts[0]
	if v < pt.VMin {
		v = pt.VMin
	}
	if v > pt.VMax {
		v = pt.VMax
	}

	return (v-pt.VMin)*((pt.PMax-pt.PMin)/pt.VSpan) + pt.PMin - pt.Offset
}
