package apply

import (
	"os"
	"syscall"
)

// fileInode extracts the inode number backing info, used to verify a
// rollback target is still the file Apply committed rather than something
// else that has since been written to the same path.
func fileInode(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return stat.Ino, true
}
