package daqkit

// LoadCell reads a bridge sensor differentially from two single-ended
// inputs. The reading is ratiometric to the excitation voltage:
// force = ((V+ - V-) / excitation) / sensitivity * max load.
type LoadCell struct {
	Name     string
	Adc      int
	SigPlus  int
	SigMinus int
	Enabled  bool

	ExcitationVoltage float64
	Sensitivity       float64 // V/V
	MaxLoad           float64
	Offset            float64
}

func (lc *LoadCell) Label() string {
	return lc.Name
}

func (lc *LoadCell) AdcID() int {
	return lc.Adc
}

func (lc *LoadCell) IsEnabled() bool {
	return lc.Enabled
}

func (lc *LoadCell) Inputs() []int {
	return []int{lc.SigPlus, lc.SigMinus}
}

func (lc *LoadCell) Columns() []string {
	return []string{lc.Name + "_SIG+", lc.Name + "_SIG-"}
}

func (lc *LoadCell) Convert(volts []float64) float64 {
	if lc.ExcitationVoltage == 0 || lc.Sensitivity == 0 {
		return 0
	}

	ratio := (volts[0] - volts[1]) / lc.ExcitationVoltage
	return ratio/lc.Sensitivity*lc.MaxLoad - lc.Offset
}
