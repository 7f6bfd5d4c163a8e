package redact

import "testing"

func TestURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://bucket.s3.amazonaws.com/a.png?X-Amz-Signature=x", "https://bucket.s3.amazonaws.com/a.png"},
		{"https://example.com/a.png", "https://example.com/a.png"},
		{"https://example.com/a.png#frag", "https://example.com/a.png"},
		{"https://example.com/a.png?", "https://example.com/a.png"},
		{"%zz", "%zz"},
	}
	for _, tt := range tests {
		if got := URL(tt.in); got != tt.want {
			t.Errorf("URL(%q)=%q, expected %q", tt.in, got, tt.want)
		}
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{
			"quoted url in message",
			"GET 'https://s3.example.com/in/a.png?X-Amz-Signature=SECRET' failed with status 404",
			"GET 'https://s3.example.com/in/a.png' failed with status 404",
		},
		{
			"json document",
			`{"source":"https://s3.example.com/a.png?sig=SECRET","renditions":[{"target":"https://s3.example.com/b.png?sig=OTHER"}]}`,
			`{"source":"https://s3.example.com/a.png","renditions":[{"target":"https://s3.example.com/b.png"}]}`,
		},
		{"no url", "rendition callback failed", "rendition callback failed"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Errorf("Text(%q)=%q, expected %q", tt.in, got, tt.want)
			}
		})
	}
}
