package store

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"*", "", true},
		{"*", "anything", true},
		{"", "", true},
		{"", "x", false},
		{"foo", "foo", true},
		{"foo", "foobar", false},
		{"foo*", "foobar", true},
		{"foo*", "foo", true},
		{"*bar", "foobar", true},
		{"*bar", "bar", true},
		{"*bar", "barfoo", false},
		{"f?o", "foo", true},
		{"f?o", "fo", false},
		{"f??", "foo", true},
		{"h[ae]llo", "h[ae]llo", true}, // no character classes: literal brackets
		{"h[ae]llo", "hello", false},
		{"*?*", "x", true},
		{"*?*", "", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "ac", false},
		{"a*a*a", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab", false},
	}

	for _, tc := range cases {
		t.Run(tc.pattern+"/"+tc.key, func(t *testing.T) {
			got := Match([]byte(tc.pattern), []byte(tc.key))
			if got != tc.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
			}
		})
	}
}

func TestMatch_BinaryKeys(t *testing.T) {
	key := []byte{0x00, 0x01, 0xff, '\r', '\n'}
	if !Match([]byte("*"), key) {
		t.Error("* should match any binary key")
	}
	if !Match(append(append([]byte{0x00}, '?'), 0xff, '\r', '\n'), key) {
		t.Error("? should match a single arbitrary byte, with a leading NUL matched literally")
	}
}
