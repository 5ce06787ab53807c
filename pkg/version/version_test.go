package version

import (
	"regexp"
	"testing"
)

func TestVersion(t *testing.T) {
	semver := regexp.MustCompile(`^v\d+\.\d+\.\d+`)
	if !semver.MatchString(Version) {
		t.Errorf("Version = %q, want a v-prefixed semantic version", Version)
	}
}
