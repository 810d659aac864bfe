//go:build linux

package liaison

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/loykin/ff7link/internal/address"
)

// osMemory uses process_vm_readv/process_vm_writev. Under Wine/Proton the game
// is a regular Linux process, so the same calls apply.
type osMemory struct{}

// NewOSMemory returns the platform memory backend.
func NewOSMemory() Memory { return osMemory{} }

func (osMemory) Read(pid int32, addr address.Address, n int) ([]byte, error) {
	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(n)
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: n}}
	got, err := unix.ProcessVMReadv(int(pid), local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("process_vm_readv: %w", err)
	}
	if got != n {
		return nil, &ShortIOError{Op: "read", Want: n, Got: got}
	}
	return buf, nil
}

func (osMemory) Write(pid int32, addr address.Address, data []byte) error {
	// copy so the caller's slice can't change mid-syscall
	buf := append([]byte(nil), data...)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	got, err := unix.ProcessVMWritev(int(pid), local, remote, 0)
	if err != nil {
		return fmt.Errorf("process_vm_writev: %w", err)
	}
	if got != len(buf) {
		return &ShortIOError{Op: "write", Want: len(buf), Got: got}
	}
	return nil
}
