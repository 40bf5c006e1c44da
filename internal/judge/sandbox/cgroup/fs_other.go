//go:build !linux

package cgroup

import "fmt"

func verifyCgroup2(root string) error {
	return fmt.Errorf("cgroup v2 is only available on linux")
}
