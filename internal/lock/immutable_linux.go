//go:build linux

package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// fsImmutableFL is FS_IMMUTABLE_FL from linux/fs.h.
const fsImmutableFL = 0x00000010

func setImmutable(path string) (restore func() error, err error) {
	flags, err := fileFlags(path)
	if err != nil {
		return nil, err
	}
	if flags&fsImmutableFL != 0 {
		// Already immutable before we touched it; leave it that way.
		return func() error { return nil }, nil
	}
	if err := setFileFlags(path, flags|fsImmutableFL); err != nil {
		return nil, err
	}
	return func() error {
		cur, err := fileFlags(path)
		if err != nil {
			return err
		}
		return setFileFlags(path, cur&^fsImmutableFL)
	}, nil
}

func fileFlags(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	flags, err := unix.IoctlGetUint32(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return 0, fmt.Errorf("FS_IOC_GETFLAGS: %w", err)
	}
	return flags, nil
}

func setFileFlags(path string, flags uint32) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, int(flags)); err != nil {
		return fmt.Errorf("FS_IOC_SETFLAGS: %w", err)
	}
	return nil
}
