// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package authz

import "golang.org/x/sys/unix"

// probeMlockLimit reads RLIMIT_MEMLOCK and reports whether the soft limit
// covers at least needKB kilobytes. RLIM_INFINITY always passes.
func probeMlockLimit(needKB int64) (ok bool, limitKB int64) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rl); err != nil {
		// Cannot determine the limit; refuse secure custody rather
		// than fail at the first mlock.
		return false, 0
	}
	if rl.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB = int64(rl.Cur / 1024)
	return limitKB >= needKB, limitKB
}
