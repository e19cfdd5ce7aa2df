package csvio

import "testing"

func TestParseDelimiter(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{in: "", want: ','},
		{in: ",", want: ','},
		{in: "TAB", want: '\t'},
		{in: `\t`, want: '\t'},
		{in: "\t", want: '\t'},
		{in: "|", want: '|'},
		{in: "semicolon", want: ';'},
		{in: "::", wantErr: true},
		{in: `"`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDelimiter(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDelimiter(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseDelimiter(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}
