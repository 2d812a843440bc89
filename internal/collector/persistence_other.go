//go:build !windows

package collector

// DefaultPersistenceSources reports ErrUnsupported outside Windows.
func DefaultPersistenceSources() (PersistenceSources, error) {
	return PersistenceSources{}, ErrUnsupported
}
