//go:build !linux

package lock

import "errors"

func setImmutable(string) (func() error, error) {
	return nil, errors.New("immutable attribute not supported on this platform")
}
