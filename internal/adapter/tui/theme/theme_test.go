package theme

import (
	"strings"
	"testing"
)

func TestBadgeFollowsSymbolSet(t *testing.T) {
	prev := Symbols
	t.Cleanup(func() { Symbols = prev })
	Symbols = asciiSymbols

	cases := map[Badge]string{
		BadgeInfo:    "[i]",
		BadgePending: "[ ]",
		BadgeRunning: "[>]",
		BadgeOK:      "[OK]",
		BadgeWarn:    "[!]",
		BadgeFail:    "[ERR]",
	}
	for b, want := range cases {
		if got := b.String(); !strings.Contains(got, want) {
			t.Errorf("Badge(%d) = %q, want it to contain %q", b, got, want)
		}
	}
}

func TestRoleLabel(t *testing.T) {
	for _, role := range []string{"user", "assistant", "tool", "system", "other"} {
		if got := RoleLabel(role); !strings.Contains(got, role) {
			t.Errorf("RoleLabel(%q) = %q", role, got)
		}
	}
}
