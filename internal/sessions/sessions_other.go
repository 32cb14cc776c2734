//go:build !windows

package sessions

// List is unavailable off Windows.
func List() ([]ProcessInfo, error) {
	return nil, ErrUnsupported
}

// HasSession is unavailable off Windows.
func HasSession(pid uint32) (bool, error) {
	return false, ErrUnsupported
}
