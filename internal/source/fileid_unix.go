// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

//go:build unix

package source

import "golang.org/x/sys/unix"

// fileID returns the inode number identifying path on its filesystem.
func fileID(path string) (uint64, bool) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, false
	}
	return uint64(st.Ino), true
}
