package daqkit

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/daqkit/recorder"
)

// StartMonitoring freezes the enabled-channel order, starts conversions on
// both converters and spawns the background poll loop. Calling it while
// already monitoring is a no-op.
func (dk *DaqKit) StartMonitoring() error {
	dk.mu.Lock()
	defer dk.mu.Unlock()

	if dk.state != StateIdle {
		return nil
	}
	if dk.initErr != nil || len(dk.adcs) == 0 {
		if dk.initErr != nil {
			return errors.Wrap(ErrNotInitialized, dk.initErr.Error())
		}
		return ErrNotInitialized
	}

	order := dk.enabledChannelsLocked()
	if len(order) == 0 {
		return errors.New("no enabled channels to monitor")
	}

	for _, adc := range dk.adcs {
		if err := adc.StartConversions(); err != nil {
			return err
		}
	}
	dk.enableExcitationLocked(order)

	dk.order = order

	ctx, cancel := context.WithCancel(context.Background())
	dk.cancel = cancel
	dk.loopDone = make(chan struct{})
	go dk.pollLoop(ctx, order, dk.loopDone)

	dk.state = StateMonitoring
	dk.statusMessage = "Monitoring."
	log.Info("monitoring started", "channels", len(order))
	return nil
}

// enableExcitationLocked turns on IDAC excitation on every converter that
// has an enabled RTD channel, using the first such channel's settings.
// This switches the shared reference of the whole converter, see
// drivers.ADS124S08.EnableExcitation.
func (dk *DaqKit) enableExcitationLocked(order []Channel) {
	for _, ch := range order {
		rtd, isRtd := ch.(*RTD)
		if !isRtd {
			continue
		}
		adc, found := dk.adcs[rtd.Adc]
		if !found || adc.ExcitationEnabled() {
			continue
		}
		idac1, idac2 := rtd.idacPins()
		err := adc.EnableExcitation(rtd.currentUA(), idac1, idac2)
		if err != nil {
			log.Error("failed to enable RTD excitation", "rtd", rtd.Name, "err", err)
		}
	}
}

// StopMonitoring cancels the poll loop, waits for it to finish its cycle
// and returns the manager to idle. An active logging session is closed by
// the loop on its way out.
func (dk *DaqKit) StopMonitoring() error {
	dk.mu.Lock()
	if dk.state == StateIdle {
		dk.mu.Unlock()
		return nil
	}
	cancel := dk.cancel
	done := dk.loopDone
	dk.mu.Unlock()

	cancel()
	<-done

	dk.mu.Lock()
	defer dk.mu.Unlock()
	dk.cancel = nil
	dk.loopDone = nil
	dk.order = nil
	dk.state = StateIdle
	dk.statusMessage = "Idle."
	log.Info("monitoring stopped")
	return nil
}

// StartLogging opens a new recording session whose row schema is the
// channel order frozen at monitoring start, and returns the session
// filename. The schema stays fixed for the session's whole life.
func (dk *DaqKit) StartLogging() (string, error) {
	dk.mu.Lock()
	defer dk.mu.Unlock()

	if dk.session != nil {
		return "", ErrAlreadyLogging
	}
	if dk.state != StateMonitoring {
		return "", errors.Wrapf(ErrNotMonitoring, "cannot start logging while %s", dk.state)
	}

	session, err := recorder.NewSession(dk.DataDir, columnsFor(dk.order))
	if err != nil {
		dk.statusMessage = "Failed to start logging: " + err.Error()
		return "", errors.Wrap(err, "failed to open recording session")
	}

	dk.session = session
	dk.state = StateLogging
	dk.statusMessage = "Logging to " + session.Filename()
	log.Info("logging started", "file", session.Filename())
	return session.Filename(), nil
}

// StopLogging closes the active session and drops back to monitoring.
func (dk *DaqKit) StopLogging() (string, error) {
	dk.mu.Lock()
	defer dk.mu.Unlock()

	if dk.session == nil {
		return "", ErrNotLogging
	}

	filename := dk.session.Filename()
	err := dk.session.Close()
	dk.session = nil
	dk.state = StateMonitoring
	dk.statusMessage = "Monitoring."
	log.Info("logging stopped", "file", filename)
	return filename, errors.Wrap(err, "failed to close recording session")
}

func columnsFor(order []Channel) []string {
	var columns []string
	for _, ch := range order {
		columns = append(columns, ch.Columns()...)
	}
	return columns
}

// pollLoop runs until cancelled. Cancellation is checked once per cycle
// boundary, never in the middle of a register sequence, so the converters
// are always left in a consistent state.
func (dk *DaqKit) pollLoop(ctx context.Context, order []Channel, done chan struct{}) {
	defer close(done)
	defer dk.teardownLoop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		timestamp := time.Now()
		snapshot, row := dk.readCycle(timestamp, order)

		dk.mu.Lock()
		dk.snapshot = snapshot
		if dk.session != nil {
			if err := dk.session.Append(timestamp, row); err != nil {
				log.Error("failed to append row", "err", err)
			}
		}
		dk.mu.Unlock()

		if dk.Influx != nil {
			dk.Influx.Publish(snapshot)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(dk.pollInterval):
		}
	}
}

// readCycle reads every channel of the frozen order once. A failed input
// read leaves a nil in its row position and the cycle carries on; the row
// therefore always aligns with the session header.
func (dk *DaqKit) readCycle(timestamp time.Time, order []Channel) (Snapshot, []*float64) {
	snapshot := Snapshot{
		Timestamp: timestamp,
		Readings:  make(map[string]Reading, len(order)),
	}
	var row []*float64

	for _, ch := range order {
		adc := dk.adcs[ch.AdcID()]
		inputs := ch.Inputs()
		volts := make([]*float64, len(inputs))

		for i, ain := range inputs {
			if adc == nil {
				break
			}
			_, v, err := adc.ReadChannel(ain, dk.Vref, dk.Gain, dk.SettleDiscard, dk.drdyTimeout)
			if err != nil {
				log.Warn("channel read failed", "channel", ch.Label(), "ain", ain, "err", err)
				continue
			}
			value := v
			volts[i] = &value
		}

		reading := Reading{Volts: volts}
		if allPresent(volts) {
			converted := ch.Convert(deref(volts))
			reading.Value = &converted
		}

		snapshot.Readings[ch.Label()] = reading
		row = append(row, volts...)
	}

	return snapshot, row
}

// teardownLoop stops conversions and closes a live session after the poll
// loop exits. Only the loop goroutine touches the converters here.
func (dk *DaqKit) teardownLoop() {
	for _, adc := range dk.adcs {
		if adc.ExcitationEnabled() {
			if err := adc.DisableExcitation(); err != nil {
				log.Error("failed to disable excitation", "adc", adc.ID, "err", err)
			}
		}
		if err := adc.StopConversions(); err != nil {
			log.Error("failed to stop conversions", "adc", adc.ID, "err", err)
		}
	}

	dk.mu.Lock()
	defer dk.mu.Unlock()
	if dk.session != nil {
		if err := dk.session.Close(); err != nil {
			log.Error("failed to close session", "err", err)
		}
		dk.session = nil
	}
}

func allPresent(volts []*float64) bool {
	for _, v := range volts {
		if v == nil {
			return false
		}
	}
	return len(volts) > 0
}

func deref(volts []*float64) []float64 {
	out := make([]float64, len(volts))
	for i, v := range volts {
		out[i] = *v
	}
	return out
}

// LatestSnapshot returns the last published poll cycle. The snapshot map
// is replaced wholesale each cycle and never mutated after publication.
func (dk *DaqKit) LatestSnapshot() Snapshot {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	return dk.snapshot
}

func (dk *DaqKit) CurrentState() State {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	return dk.state
}

func (dk *DaqKit) IsLogging() bool {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	return dk.state == StateLogging
}

// StatusMessage reflects the last meaningful transition or failure.
func (dk *DaqKit) StatusMessage() string {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	return dk.statusMessage
}

// CurrentFilename returns the active session's filename, empty when not
// logging.
func (dk *DaqKit) CurrentFilename() string {
	dk.mu.Lock()
	defer dk.mu.Unlock()
	if dk.session == nil {
		return ""
	}
	return dk.session.Filename()
}
