//go:build linux

package cgroup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func verifyCgroup2(root string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return err
	}
	if st.Type != unix.CGROUP2_SUPER_MAGIC {
		return fmt.Errorf("%s is not a cgroup2 mount (fs type 0x%x)", root, st.Type)
	}
	return nil
}
