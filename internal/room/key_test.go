package room

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Streamer", "streamer"},
		{"  streamer  ", "streamer"},
		{"STREAMER", "streamer"},
		{"Straße", "strasse"},
	}
	for _, tc := range cases {
		if got := NormalizeKey(tc.in); got != tc.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeysEqual(t *testing.T) {
	if !KeysEqual("Caster", "caster") {
		t.Fatal("case must not matter")
	}
	if KeysEqual("caster", "other") {
		t.Fatal("distinct names must differ")
	}
}
