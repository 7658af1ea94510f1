// util/util_test.go
// Copyright(c) 2026 The vbackup Authors
// BSD licensed; see LICENSE for details.

package util

import "testing"

func TestFmtBytes(t *testing.T) {
	for _, c := range []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{2048, "2.00 kiB"},
		{3 * 1024 * 1024, "3.00 MiB"},
		{5 * 1024 * 1024 * 1024, "5.00 GiB"},
		{2 * 1024 * 1024 * 1024 * 1024, "2.00 TiB"},
	} {
		if got := FmtBytes(c.n); got != c.want {
			t.Errorf("FmtBytes(%d) = %q, expected %q", c.n, got, c.want)
		}
	}
}
