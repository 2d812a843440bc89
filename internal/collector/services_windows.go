//go:build windows

package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc/mgr"
)

// scmServices reads services from the service control manager. Handles are
// opened with query rights only, so an unelevated run still sees the list.
type scmServices struct{}

// NewServiceSource returns the service control manager source.
func NewServiceSource() (ServiceSource, error) {
	return scmServices{}, nil
}

func connectSCM() (*mgr.Mgr, error) {
	h, err := windows.OpenSCManager(nil, nil, windows.SC_MANAGER_CONNECT|windows.SC_MANAGER_ENUMERATE_SERVICE)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, fmt.Errorf("open service manager: %w", ErrAccessDenied)
		}
		return nil, fmt.Errorf("open service manager: %w", err)
	}
	return &mgr.Mgr{Handle: h}, nil
}

func (scmServices) Services(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := connectSCM()
	if err != nil {
		return nil, err
	}
	defer m.Disconnect()

	names, err := m.ListServices()
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (scmServices) BinaryPath(ctx context.Context, service string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m, err := connectSCM()
	if err != nil {
		return "", err
	}
	defer m.Disconnect()

	name, err := windows.UTF16PtrFromString(service)
	if err != nil {
		return "", err
	}
	h, err := windows.OpenService(m.Handle, name, windows.SERVICE_QUERY_CONFIG)
	if err != nil {
		return "", fmt.Errorf("open service %s: %w", service, err)
	}
	s := &mgr.Service{Name: service, Handle: h}
	defer s.Close()

	cfg, err := s.Config()
	if err != nil {
		return "", fmt.Errorf("query %s config: %w", service, err)
	}
	return cfg.BinaryPathName, nil
}
