package drivers

import "github.com/pkg/errors"

// Bus is a full-duplex, fixed-length byte exchange with a device.
// Implementations clock out tx and return exactly len(tx) received bytes.
type Bus interface {
	Transfer(tx []byte) ([]byte, error)
	Close() error
}

type DigitalInput interface {
	GetState() (bool, error)
}

type DigitalOutput interface {
	GetState() (bool, error)
	Set(bool) error
}

var (
	// ErrProtocol marks a malformed register access, a programmer error.
	ErrProtocol = errors.New("protocol error")
	// ErrConfig marks an invalid gain, current or input index, rejected
	// before any register is touched.
	ErrConfig = errors.New("invalid configuration")
	// ErrTimeout marks a DRDY wait that ran out of its deadline.
	ErrTimeout = errors.New("data ready timeout")
	// ErrDeviceInit marks a device that could not be reached at startup.
	ErrDeviceInit = errors.New("device initialization failed")
)
