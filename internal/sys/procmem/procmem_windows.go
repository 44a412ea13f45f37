//go:build windows

package procmem

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	accessRights = windows.PROCESS_QUERY_INFORMATION |
		windows.PROCESS_VM_READ |
		windows.PROCESS_VM_WRITE |
		windows.PROCESS_VM_OPERATION

	stillActive = 259
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procFindWindowW              = user32.NewProc("FindWindowW")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")

	kernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procGetSystemInfo = kernel32.NewProc("GetSystemInfo")
)

// systemInfo mirrors SYSTEM_INFO.
type systemInfo struct {
	ProcessorArchitecture     uint16
	reserved                  uint16
	PageSize                  uint32
	MinimumApplicationAddress uintptr
	MaximumApplicationAddress uintptr
	ActiveProcessorMask       uintptr
	NumberOfProcessors        uint32
	ProcessorType             uint32
	AllocationGranularity     uint32
	ProcessorLevel            uint16
	ProcessorRevision         uint16
}

type windowsSystem struct{}

// Native returns the backend for the running platform.
func Native() System {
	return windowsSystem{}
}

func (windowsSystem) Info() SystemInfo {
	var si systemInfo
	_, _, _ = procGetSystemInfo.Call(uintptr(unsafe.Pointer(&si)))
	return SystemInfo{
		PageSize:   uint64(si.PageSize),
		MinAddress: uint64(si.MinimumApplicationAddress),
		MaxAddress: uint64(si.MaximumApplicationAddress),
	}
}

func (windowsSystem) FindProcess(ctx context.Context, m Matcher) (int, error) {
	if !m.ByWindow() {
		return findByName(ctx, m)
	}

	hwnd, err := findWindow(m.WindowClass, m.WindowTitle)
	if err != nil {
		return 0, err
	}
	if hwnd == 0 {
		return 0, ErrNoMatch
	}

	var pid uint32
	_, _, _ = procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return 0, ErrNoMatch
	}
	return int(pid), nil
}

func findWindow(class, title string) (uintptr, error) {
	var classPtr, titlePtr *uint16
	var err error
	if class != "" {
		if classPtr, err = windows.UTF16PtrFromString(class); err != nil {
			return 0, fmt.Errorf("invalid window class %q: %w", class, err)
		}
	}
	if title != "" {
		if titlePtr, err = windows.UTF16PtrFromString(title); err != nil {
			return 0, fmt.Errorf("invalid window title %q: %w", title, err)
		}
	}
	hwnd, _, _ := procFindWindowW.Call(uintptr(unsafe.Pointer(classPtr)), uintptr(unsafe.Pointer(titlePtr)))
	return hwnd, nil
}

func (windowsSystem) Open(pid int) (Handle, error) {
	//nolint:gosec // G115: Windows PIDs are DWORDs.
	h, err := windows.OpenProcess(accessRights, false, uint32(pid))
	if err != nil {
		return nil, fmt.Errorf("%w: OpenProcess(%d): %v", ErrAccessDenied, pid, err)
	}
	return &windowsHandle{pid: pid, h: h}, nil
}

type windowsHandle struct {
	pid int
	h   windows.Handle
}

func (w *windowsHandle) PID() int {
	return w.pid
}

func (w *windowsHandle) ReadMemory(addr uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.ReadProcessMemory(w.h, uintptr(addr), &buf[0], uintptr(len(buf)), &n)
	return int(n), err
}

func (w *windowsHandle) WriteMemory(addr uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	var n uintptr
	err := windows.WriteProcessMemory(w.h, uintptr(addr), &data[0], uintptr(len(data)), &n)
	return int(n), err
}

func (w *windowsHandle) QueryRegion(addr uint64) (Region, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(w.h, uintptr(addr), &mbi, unsafe.Sizeof(mbi)); err != nil {
		return Region{}, fmt.Errorf("VirtualQueryEx(0x%x): %w", addr, err)
	}
	return Region{
		Base:    uint64(mbi.BaseAddress),
		Size:    uint64(mbi.RegionSize),
		State:   State(mbi.State),
		Protect: Protection(mbi.Protect),
	}, nil
}

// ImageBase reads PEB.ImageBaseAddress, which sits two pointers into the PEB.
func (w *windowsHandle) ImageBase() (uint64, error) {
	var pbi windows.PROCESS_BASIC_INFORMATION
	err := windows.NtQueryInformationProcess(w.h, windows.ProcessBasicInformation,
		unsafe.Pointer(&pbi), uint32(unsafe.Sizeof(pbi)), nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrControlBlockNotFound, err)
	}
	peb := uint64(uintptr(unsafe.Pointer(pbi.PebBaseAddress)))
	if peb == 0 {
		return 0, fmt.Errorf("%w: PEB address is zero", ErrControlBlockNotFound)
	}

	ptrSize := uint64(unsafe.Sizeof(uintptr(0)))
	buf := make([]byte, ptrSize)
	n, err := w.ReadMemory(peb+2*ptrSize, buf)
	if err != nil || n != len(buf) {
		return 0, fmt.Errorf("%w: PEB at 0x%x: %v", ErrControlBlockUnreadable, peb, err)
	}

	var base uint64
	for i := len(buf) - 1; i >= 0; i-- {
		base = base<<8 | uint64(buf[i])
	}
	return base, nil
}

func (w *windowsHandle) Alive() (bool, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(w.h, &code); err != nil {
		if errors.Is(err, windows.ERROR_INVALID_HANDLE) {
			return false, nil
		}
		return false, err
	}
	return code == stillActive, nil
}

func (w *windowsHandle) Close() error {
	return windows.CloseHandle(w.h)
}
