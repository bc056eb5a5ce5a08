package version

import "testing"

func TestString(t *testing.T) {
	orig := [3]string{Version, Commit, BuildTime}
	defer func() { Version, Commit, BuildTime = orig[0], orig[1], orig[2] }()

	Version, Commit, BuildTime = "1.2.3", "abc1234", "2024-01-15T12:00:00Z"

	want := "1.2.3 (abc1234) built 2024-01-15T12:00:00Z"
	if got := String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
