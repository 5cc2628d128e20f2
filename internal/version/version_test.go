package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	s := String()
	for _, part := range []string{Version, Commit, BuildDate} {
		if !strings.Contains(s, part) {
			t.Fatalf("%q missing from %q", part, s)
		}
	}
	if UserAgent() != "hypemonitor/"+Version {
		t.Fatalf("unexpected user agent %q", UserAgent())
	}
}
