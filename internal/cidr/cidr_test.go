package cidr

import "testing"

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"192.168.1.1", true},
		{"[::1]", true},
		{"::1", true},
		{"2001:db8::1", true},
		{"::ffff:10.0.0.1", true},
		{"not-an-ip", false},
		{"", false},
		{"300.1.1.1", false},
	}
	for _, c := range cases {
		_, ok := ParseAddr(c.in)
		if ok != c.ok {
			t.Errorf("ParseAddr(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
	}
}

func TestParseAddrUnmapsIPv4MappedIPv6(t *testing.T) {
	a, ok := ParseAddr("::ffff:10.0.0.1")
	if !ok {
		t.Fatal("expected ok")
	}
	if !a.Is4() {
		t.Fatalf("expected unmapped v4 address, got %v", a)
	}
	if a.String() != "10.0.0.1" {
		t.Fatalf("got %v, want 10.0.0.1", a)
	}
}

func TestParseCIDRDefaultsPrefix(t *testing.T) {
	b, ok := ParseCIDR("192.168.1.1")
	if !ok || b.Prefix != 32 {
		t.Fatalf("v4 default prefix = %+v, ok=%v", b, ok)
	}
	b6, ok := ParseCIDR("2001:db8::1")
	if !ok || b6.Prefix != 128 {
		t.Fatalf("v6 default prefix = %+v, ok=%v", b6, ok)
	}
}

func TestParseCIDRMalformed(t *testing.T) {
	cases := []string{"192.168.0.0/33", "2001:db8::/129", "garbage/16", "192.168.0.0/-1"}
	for _, s := range cases {
		if _, ok := ParseCIDR(s); ok {
			t.Errorf("ParseCIDR(%q) expected not ok", s)
		}
	}
}

func TestContains(t *testing.T) {
	c, ok := ParseCIDR("192.168.0.0/16")
	if !ok {
		t.Fatal("parse failed")
	}
	if !Contains("192.168.5.9", c) {
		t.Error("expected 192.168.5.9 to be contained")
	}
	if Contains("192.169.5.9", c) {
		t.Error("expected 192.169.5.9 to not be contained")
	}
}

func TestContainsFamilyMismatch(t *testing.T) {
	c, _ := ParseCIDR("192.168.0.0/16")
	if Contains("2001:db8::1", c) {
		t.Error("family mismatch must be no-match")
	}
}

func TestContainsMalformedIPNoMatch(t *testing.T) {
	c, _ := ParseCIDR("10.0.0.0/8")
	if Contains("garbage", c) {
		t.Error("malformed ip must be no-match, not an error")
	}
}

func TestContainsSymmetricUnderEquivalentRepresentation(t *testing.T) {
	a, _ := ParseCIDR("192.168.0.0/16")
	b, _ := ParseCIDR("192.168.0.0/16")
	if Contains("192.168.7.7", a) != Contains("192.168.7.7", b) {
		t.Error("equivalent CIDR representations must agree on membership")
	}
}

func TestNormalizeIPv6To64Aggregates(t *testing.T) {
	a := NormalizeIPv6To64("2001:db8::1")
	b := NormalizeIPv6To64("2001:db8::ffff")
	if a != b {
		t.Errorf("expected shared /64 key, got %q vs %q", a, b)
	}
	c := NormalizeIPv6To64("2001:db8:1::1")
	if a == c {
		t.Errorf("different /64 blocks must not collide: %q == %q", a, c)
	}
}

func TestNormalizeIPv4Identity(t *testing.T) {
	if NormalizeIPv6To64("203.0.113.5") != "203.0.113.5" {
		t.Error("IPv4 normalization must be identity")
	}
}
