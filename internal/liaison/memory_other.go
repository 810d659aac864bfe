//go:build !linux && !windows

package liaison

import "github.com/loykin/ff7link/internal/address"

type osMemory struct{}

// NewOSMemory returns the platform memory backend.
func NewOSMemory() Memory { return osMemory{} }

func (osMemory) Read(int32, address.Address, int) ([]byte, error) { return nil, ErrUnsupported }

func (osMemory) Write(int32, address.Address, []byte) error { return ErrUnsupported }
