//go:build !linux && !windows

package collector

// NewCapturer reports ErrUnsupported on this platform.
func NewCapturer() (Capturer, error) {
	return nil, ErrUnsupported
}
