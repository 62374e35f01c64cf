package daqkit

// Channel is one configured sensor input on a converter. A channel owns
// one or two analog inputs and converts their voltages into a physical
// value. Implementations: LoadCell, PressureTransducer, RTD.
type Channel interface {
	Label() string
	AdcID() int
	IsEnabled() bool

	// Inputs returns the analog input indices this channel reads,
	// in the same order Columns names them.
	Inputs() []int
	Columns() []string

	// Convert derives the physical value from the voltages read on
	// Inputs, in the same order.
	Convert(volts []float64) float64
}
