//go:build windows

package liaison

import (
	"fmt"

	"golang.org/x/sys/windows"

	"github.com/loykin/ff7link/internal/address"
)

const (
	readAccess  = windows.PROCESS_VM_READ | windows.PROCESS_QUERY_LIMITED_INFORMATION
	writeAccess = windows.PROCESS_VM_WRITE | windows.PROCESS_VM_OPERATION | windows.PROCESS_QUERY_LIMITED_INFORMATION
)

// osMemory opens a short-lived handle per call so a restarted game (new PID)
// never sees a stale handle.
type osMemory struct{}

// NewOSMemory returns the platform memory backend.
func NewOSMemory() Memory { return osMemory{} }

func (osMemory) Read(pid int32, addr address.Address, n int) ([]byte, error) {
	h, err := windows.OpenProcess(readAccess, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("OpenProcess: %w", err)
	}
	defer func() { _ = windows.CloseHandle(h) }()

	buf := make([]byte, n)
	var got uintptr
	if err := windows.ReadProcessMemory(h, uintptr(addr), &buf[0], uintptr(n), &got); err != nil {
		return nil, fmt.Errorf("ReadProcessMemory: %w", err)
	}
	if int(got) != n {
		return nil, &ShortIOError{Op: "read", Want: n, Got: int(got)}
	}
	return buf, nil
}

func (osMemory) Write(pid int32, addr address.Address, data []byte) error {
	h, err := windows.OpenProcess(writeAccess, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess: %w", err)
	}
	defer func() { _ = windows.CloseHandle(h) }()

	buf := append([]byte(nil), data...)
	var wrote uintptr
	if err := windows.WriteProcessMemory(h, uintptr(addr), &buf[0], uintptr(len(buf)), &wrote); err != nil {
		return fmt.Errorf("WriteProcessMemory: %w", err)
	}
	if int(wrote) != len(buf) {
		return &ShortIOError{Op: "write", Want: len(buf), Got: int(wrote)}
	}
	return nil
}
