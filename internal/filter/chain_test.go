package filter_test

import (
	"testing"

	"github.com/rohmanhakim/warcling/internal/config"
	"github.com/rohmanhakim/warcling/internal/filter"
)

func TestNewChain_InvalidRegexErrors(t *testing.T) {
	_, err := filter.NewChain(config.ScopePolicy{AcceptRegex: "("}, nil, nil, "")
	if err == nil {
		t.Fatalf("expected an error for an unparseable accept-regex")
	}
}

func TestNewChain_BuildsAWorkingChain(t *testing.T) {
	chain, err := filter.NewChain(config.ScopePolicy{Level: 5, SpanHosts: true}, nil, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accepted, _ := chain.Evaluate(filter.Candidate{URL: mustURL(t, "https://example.com/")})
	if !accepted {
		t.Errorf("expected a default chain to accept a plain https seed URL")
	}
}

func TestNewChain_PlumbsSeedPathIntoNoParent(t *testing.T) {
	chain, err := filter.NewChain(config.ScopePolicy{NoParent: true, SpanHosts: true}, nil, nil, "/docs/intro.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sibling, _ := chain.Evaluate(filter.Candidate{URL: mustURL(t, "https://example.com/docs/guide.html")})
	if !sibling {
		t.Errorf("expected a page under the seed directory to be accepted")
	}

	outside, _ := chain.Evaluate(filter.Candidate{URL: mustURL(t, "https://example.com/other/page.html")})
	if outside {
		t.Errorf("expected a page outside the seed directory to be rejected under no-parent")
	}
}
