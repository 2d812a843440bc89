//go:build windows

package collector

// DefaultPersistenceSources wires the registry, the service control manager and schtasks.exe.
func DefaultPersistenceSources() (PersistenceSources, error) {
	reg, err := NewRegistrySource()
	if err != nil {
		return PersistenceSources{}, err
	}
	services, err := NewServiceSource()
	if err != nil {
		return PersistenceSources{}, err
	}
	return PersistenceSources{
		Registry: reg,
		Services: services,
		Tasks:    Schtasks{Run: ExecRunner},
	}, nil
}
