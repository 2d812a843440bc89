//go:build windows

package collector

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type toolhelpSource struct{}

// NewProcessSource enumerates processes with a toolhelp snapshot.
func NewProcessSource() (ProcessSource, error) {
	return toolhelpSource{}, nil
}

func (toolhelpSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return nil, fmt.Errorf("toolhelp snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var entry windows.ProcessEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	if err := windows.Process32First(snap, &entry); err != nil {
		return nil, fmt.Errorf("first process: %w", err)
	}

	var out []ProcessInfo
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pid := entry.ProcessID
		out = append(out, ProcessInfo{
			PID:  int(pid),
			Name: windows.UTF16ToString(entry.ExeFile[:]),
			Path: imagePath(pid),
			Type: processType(pid),
		})

		err := windows.Process32Next(snap, &entry)
		if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("next process: %w", err)
		}
	}
	return out, nil
}

// imagePath returns the full image path, or "" when the process cannot be opened.
func imagePath(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf[:size])
}

// processType treats session 0 as system.
func processType(pid uint32) string {
	var session uint32
	if err := windows.ProcessIdToSessionId(pid, &session); err != nil || session == 0 {
		return ProcessTypeSystem
	}
	return ProcessTypeUser
}
