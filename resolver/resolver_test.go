package resolver

import "testing"

// TestIsSubdomainAcceptsValidTargets covers property 6: SRV domain safety —
// every returned target must be a sub-domain of the seed list host.
func TestIsSubdomainAcceptsValidTargets(t *testing.T) {
	cases := []struct {
		target, srvHost string
		want            bool
	}{
		{"shard00-00.cluster0.test.com", "cluster0.test.com", true},
		{"shard00-00.sub.cluster0.test.com", "cluster0.test.com", true},
		{"cluster0.test.com", "x.cluster0.test.com", true},
		{"evil.com", "cluster0.test.com", false},
		{"cluster0.test.com.evil.com", "cluster0.test.com", false},
		{"", "cluster0.test.com", false},
	}

	for _, c := range cases {
		if got := isSubdomain(c.target, c.srvHost); got != c.want {
			t.Errorf("isSubdomain(%q, %q) = %v, want %v", c.target, c.srvHost, got, c.want)
		}
	}
}

func TestParentDomainDropsFirstLabel(t *testing.T) {
	cases := map[string]string{
		"cluster0.test.com": "test.com",
		"test.com":          "com",
		"com":               "com",
	}
	for host, want := range cases {
		if got := parentDomain(host); got != want {
			t.Errorf("parentDomain(%q) = %q, want %q", host, got, want)
		}
	}
}
