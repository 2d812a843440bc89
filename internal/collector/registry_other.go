//go:build !windows

package collector

// NewRegistrySource reports ErrUnsupported outside Windows.
func NewRegistrySource() (RegistrySource, error) {
	return nil, ErrUnsupported
}
