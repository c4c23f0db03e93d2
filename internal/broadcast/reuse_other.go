//go:build !unix

package broadcast

import "syscall"

func reuseControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
