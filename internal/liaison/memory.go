package liaison

import (
	"errors"
	"fmt"

	"github.com/loykin/ff7link/internal/address"
)

// ErrUnsupported is returned by the memory backend on platforms without one.
var ErrUnsupported = errors.New("process memory access not supported on this platform")

// Memory is raw byte-range access to another process.
type Memory interface {
	Read(pid int32, addr address.Address, n int) ([]byte, error)
	Write(pid int32, addr address.Address, data []byte) error
}

// ShortIOError reports a partial read or write.
type ShortIOError struct {
	Op   string
	Want int
	Got  int
}

func (e *ShortIOError) Error() string {
	return fmt.Sprintf("partial %s: %d of %d bytes", e.Op, e.Got, e.Want)
}
