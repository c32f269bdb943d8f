//go:build !windows

package linux

import (
	"os"
	"strconv"
	"syscall"
)

func fileOwner(info os.FileInfo) string {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Uid), 10)
	}
	return ""
}
