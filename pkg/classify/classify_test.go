package classify

import (
	"fmt"
	"testing"
)

func TestClassifyDefaultRules(t *testing.T) {
	c := New(DefaultRules(), "")

	cases := []struct {
		name string
		addr string
		want string
	}{
		{"wifi subnet", "192.168.1.50", LabelWiFi},
		{"other lan subnet", "192.168.0.12", LabelLAN},
		{"openvpn nested in 10/8", "10.0.11.9", LabelOpenVPN},
		{"generic 10/8", "10.8.0.3", LabelInternal},
		{"radmin exact subnet", "26.36.148.66", LabelRadmin},
		{"radmin wider range", "26.1.2.3", LabelRadmin},
		{"private 172", "172.20.1.1", LabelPrivate},
		{"loopback", "127.0.0.1", LabelLoopback},
		{"public address", "8.8.8.8", Unknown},
		{"empty", "", Unknown},
		{"garbage", "not-an-ip", Unknown},
		{"ipv6 literal", "fe80::1", Unknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Classify(tc.addr); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.addr, got, tc.want)
			}
		})
	}
}

func TestClassifyAllAddressesUnderPrefix(t *testing.T) {
	c := New(DefaultRules(), "")
	for i := 0; i < 256; i++ {
		addr := fmt.Sprintf("10.0.11.%d", i)
		if got := c.Classify(addr); got != LabelOpenVPN {
			t.Fatalf("Classify(%q) = %q, want %q", addr, got, LabelOpenVPN)
		}
	}
}

func TestClassifyIsTextual(t *testing.T) {
	// 172.99.x.x is outside 172.16.0.0/12 but still matches the "172." prefix
	c := New(DefaultRules(), "")
	if got := c.Classify("172.99.0.1"); got != LabelPrivate {
		t.Errorf("got %q, want %q", got, LabelPrivate)
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	c := New([]Rule{
		{Prefix: "10.", Label: "broad"},
		{Prefix: "10.0.11.", Label: "narrow"},
	}, "none")

	if got := c.Classify("10.0.11.9"); got != "broad" {
		t.Errorf("got %q, want %q", got, "broad")
	}
	if got := c.Classify("11.0.0.1"); got != "none" {
		t.Errorf("custom unknown label: got %q", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	c := New(DefaultRules(), "")
	first := c.Classify("192.168.1.50")
	for i := 0; i < 10; i++ {
		if got := c.Classify("192.168.1.50"); got != first {
			t.Fatalf("call %d returned %q, first call returned %q", i, got, first)
		}
	}
}

func TestNilClassifier(t *testing.T) {
	var c *Classifier
	if got := c.Classify("192.168.1.1"); got != Unknown {
		t.Errorf("nil classifier returned %q", got)
	}
	if s := c.Shadowed(); s != nil {
		t.Errorf("nil classifier reported shadowed rules: %+v", s)
	}
	if r := c.Rules(); r != nil {
		t.Errorf("nil classifier returned rules: %+v", r)
	}
}

func TestNewCopiesRules(t *testing.T) {
	rules := []Rule{{Prefix: "10.", Label: "ten"}}
	c := New(rules, "")
	rules[0].Label = "mutated"
	if got := c.Classify("10.1.1.1"); got != "ten" {
		t.Errorf("classifier observed caller mutation: %q", got)
	}
	out := c.Rules()
	out[0].Label = "mutated"
	if got := c.Classify("10.1.1.1"); got != "ten" {
		t.Errorf("Rules() leaked internal slice: %q", got)
	}
}

func TestShadowed(t *testing.T) {
	if s := New(DefaultRules(), "").Shadowed(); len(s) != 0 {
		t.Fatalf("default rules have shadowed entries: %+v", s)
	}

	c := New([]Rule{
		{Prefix: "192.168.", Label: "lan"},
		{Prefix: "10.", Label: "ten"},
		{Prefix: "192.168.1.", Label: "wifi"},
		{Prefix: "10.0.11.", Label: "vpn"},
	}, "")
	s := c.Shadowed()
	if len(s) != 2 {
		t.Fatalf("got %d shadowed rules, want 2: %+v", len(s), s)
	}
	if s[0].Index != 2 || s[0].ByIndex != 0 {
		t.Errorf("first shadow = %+v", s[0])
	}
	if s[1].Index != 3 || s[1].ByIndex != 1 {
		t.Errorf("second shadow = %+v", s[1])
	}
}
