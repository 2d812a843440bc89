//go:build !linux && !windows

package collector

// NewProcessSource reports ErrUnsupported on this platform.
func NewProcessSource() (ProcessSource, error) {
	return nil, ErrUnsupported
}
