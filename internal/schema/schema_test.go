package schema

import "testing"

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"low", SeverityLow, false},
		{"medium", SeverityMedium, false},
		{"high", SeverityHigh, false},
		{"critical", SeverityCritical, false},
		{"HIGH", SeverityHigh, false},
		{"  Critical ", SeverityCritical, false},
		{"none", "", true},
		{"severe", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := ParseSeverity(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseSeverity(%q): expected error, got %q", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSeverity(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseSeverity(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSeverityOrdering(t *testing.T) {
	ordered := []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Ordinal() >= ordered[i].Ordinal() {
			t.Errorf("Ordinal(%q) >= Ordinal(%q): scale not strictly ascending",
				ordered[i-1], ordered[i])
		}
	}
	if SeverityNone.Ordinal() != -1 {
		t.Errorf("Ordinal(none) = %d, want -1", SeverityNone.Ordinal())
	}
}

func TestAtLeast(t *testing.T) {
	cases := []struct {
		s, t Severity
		want bool
	}{
		{SeverityLow, SeverityLow, true},
		{SeverityMedium, SeverityLow, true},
		{SeverityLow, SeverityMedium, false},
		{SeverityCritical, SeverityHigh, true},
		{SeverityHigh, SeverityCritical, false},
		{SeverityNone, SeverityLow, false},
	}
	for _, c := range cases {
		if got := c.s.AtLeast(c.t); got != c.want {
			t.Errorf("%q.AtLeast(%q) = %v, want %v", c.s, c.t, got, c.want)
		}
	}
}

func TestResourceAddress(t *testing.T) {
	cases := []struct {
		f    Finding
		want string
	}{
		{Finding{ResourceType: "aws_s3_bucket", ResourceName: "logs"}, "aws_s3_bucket.logs"},
		{Finding{ResourceType: "aws_s3_bucket"}, "aws_s3_bucket"},
		{Finding{ResourceName: "logs"}, "logs"},
		{Finding{}, "unknown"},
	}
	for _, c := range cases {
		if got := c.f.ResourceAddress(); got != c.want {
			t.Errorf("ResourceAddress(%+v) = %q, want %q", c.f, got, c.want)
		}
	}
}
