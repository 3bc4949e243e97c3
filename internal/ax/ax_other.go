//go:build !darwin || !cgo

package ax

// NewSystem reports [ErrUnsupported]; only macOS exposes the tree this
// package reads. Use a [FileSystem] snapshot elsewhere.
func NewSystem() (System, error) {
	return nil, ErrUnsupported
}
