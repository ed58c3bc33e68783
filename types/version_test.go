package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.]+)?$`)

func TestVersions(t *testing.T) {
	for name, v := range map[string]string{"Version": Version, "ContractVersion": ContractVersion} {
		if !semver.MatchString(v) {
			t.Errorf("%s %q is not semver", name, v)
		}
	}
	if ContractVersion != Version {
		t.Errorf("ContractVersion %q != Version %q", ContractVersion, Version)
	}
}
