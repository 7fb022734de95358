// Copyright 2024 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

//go:build !unix

package source

// fileID has no portable implementation; without identity, renames
// degrade to remove/create pairs.
func fileID(path string) (uint64, bool) {
	return 0, false
}
