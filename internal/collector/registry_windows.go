//go:build windows

package collector

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

var hives = map[string]registry.Key{
	"HKCU":                registry.CURRENT_USER,
	"HKEY_CURRENT_USER":   registry.CURRENT_USER,
	"HKLM":                registry.LOCAL_MACHINE,
	"HKEY_LOCAL_MACHINE":  registry.LOCAL_MACHINE,
	"HKCR":                registry.CLASSES_ROOT,
	"HKEY_CLASSES_ROOT":   registry.CLASSES_ROOT,
	"HKU":                 registry.USERS,
	"HKEY_USERS":          registry.USERS,
	"HKCC":                registry.CURRENT_CONFIG,
	"HKEY_CURRENT_CONFIG": registry.CURRENT_CONFIG,
}

type windowsRegistry struct{}

// NewRegistrySource returns the live Windows registry.
func NewRegistrySource() (RegistrySource, error) {
	return windowsRegistry{}, nil
}

func (windowsRegistry) ReadKey(_ context.Context, key string) (map[string]string, error) {
	hiveName, path, err := SplitKey(key)
	if err != nil {
		return nil, err
	}
	hive, ok := hives[hiveName]
	if !ok {
		return nil, fmt.Errorf("unknown hive %q", hiveName)
	}

	k, err := registry.OpenKey(hive, path, registry.QUERY_VALUE)
	switch {
	case errors.Is(err, windows.ERROR_FILE_NOT_FOUND):
		return map[string]string{}, nil
	case errors.Is(err, windows.ERROR_ACCESS_DENIED):
		return nil, ErrAccessDenied
	case err != nil:
		return nil, err
	}
	defer k.Close()

	names, err := k.ReadValueNames(0)
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, ErrAccessDenied
		}
		return nil, err
	}

	values := make(map[string]string, len(names))
	for _, name := range names {
		data, err := readValue(k, name)
		if err != nil {
			// The value may have been deleted between listing and reading.
			continue
		}
		values[name] = data
	}
	return values, nil
}

// readValue renders any value type as a string so values can be compared.
func readValue(k registry.Key, name string) (string, error) {
	size, valtype, err := k.GetValue(name, nil)
	if err != nil {
		return "", err
	}
	switch valtype {
	case registry.SZ, registry.EXPAND_SZ:
		s, _, err := k.GetStringValue(name)
		return s, err
	case registry.MULTI_SZ:
		ss, _, err := k.GetStringsValue(name)
		return strings.Join(ss, "\n"), err
	case registry.DWORD, registry.QWORD:
		n, _, err := k.GetIntegerValue(name)
		return strconv.FormatUint(n, 10), err
	default:
		buf := make([]byte, size)
		n, _, err := k.GetValue(name, buf)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(buf[:n]), nil
	}
}
