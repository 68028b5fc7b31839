package urlutil

import (
	"net/url"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		base         string
		wantFetch    string
		wantKey      string
		expectError  bool
	}{
		{
			name:      "lowercases scheme and host",
			input:     "HTTPS://Example.COM/Path",
			wantFetch: "https://example.com/Path",
			wantKey:   "https://example.com/Path",
		},
		{
			name:      "resolves dot segments",
			input:     "https://example.com/a/b/../c/./d",
			wantFetch: "https://example.com/a/c/d",
			wantKey:   "https://example.com/a/c/d",
		},
		{
			name:      "preserves query order in fetch url, strips from key",
			input:     "https://example.com/search?b=2&a=1",
			wantFetch: "https://example.com/search?b=2&a=1",
			wantKey:   "https://example.com/search",
		},
		{
			name:      "relative resolution against base",
			input:     "/sub/page",
			base:      "https://example.com/docs/",
			wantFetch: "https://example.com/sub/page",
			wantKey:   "https://example.com/sub/page",
		},
		{
			name:      "ipv6 host is bracketed",
			input:     "http://[::1]:8080/x",
			wantFetch: "http://[::1]:8080/x",
			wantKey:   "http://[::1]:8080/x",
		},
		{
			name:        "unparseable input errors",
			input:       "http://[::1",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var base *url.URL
			if tt.base != "" {
				b, err := url.Parse(tt.base)
				if err != nil {
					t.Fatalf("bad test base: %v", err)
				}
				base = b
			}

			got, err := Normalize(tt.input, base)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.FetchURL != tt.wantFetch {
				t.Errorf("FetchURL = %q, want %q", got.FetchURL, tt.wantFetch)
			}
			if got.Key != tt.wantKey {
				t.Errorf("Key = %q, want %q", got.Key, tt.wantKey)
			}
		})
	}
}

func TestNormalizeIDNHost(t *testing.T) {
	got, err := Normalize("https://xn--nxasmq6b.example/", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.FetchURL != "https://xn--nxasmq6b.example/" {
		t.Errorf("expected already-encoded A-label host to pass through, got %q", got.FetchURL)
	}
}
