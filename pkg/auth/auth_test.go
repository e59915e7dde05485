package auth

import (
	"context"
	"log/slog"
	"testing"

	"github.com/browserutils/kooky"
	"github.com/google/go-cmp/cmp"
)

func TestEnvSource(t *testing.T) {
	t.Setenv("CODECHEF_COOKIE", "")
	t.Setenv("CODECHEF_CF_CLEARANCE", "clear")
	t.Setenv("CODECHEF_SESSION_NAME", "SESSabc")
	t.Setenv("CODECHEF_SESSION_VALUE", "v1")

	cookies, err := EnvSource{}.Cookies(context.Background(), "codechef")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	want := map[string]string{"cf_clearance": "clear", "SESSabc": "v1"}
	if diff := cmp.Diff(want, cookies); diff != "" {
		t.Errorf("cookies mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvSourceHeader(t *testing.T) {
	t.Setenv("CODECHEF_COOKIE", "SESSabc=v1; cf_clearance=clear; broken")

	cookies, err := EnvSource{}.Cookies(context.Background(), "codechef")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	if cookies["SESSabc"] != "v1" || cookies["cf_clearance"] != "clear" || len(cookies) != 2 {
		t.Errorf("cookies = %v", cookies)
	}
}

func TestEnvSourceUnset(t *testing.T) {
	t.Setenv("CODECHEF_COOKIE", "")
	t.Setenv("CODECHEF_CF_CLEARANCE", "")
	t.Setenv("CODECHEF_SESSION_NAME", "")

	for _, platform := range []string{"codechef", "github"} {
		cookies, err := EnvSource{}.Cookies(context.Background(), platform)
		if err != nil {
			t.Fatalf("Cookies(%s) failed: %v", platform, err)
		}
		if cookies != nil {
			t.Errorf("Cookies(%s) = %v, want nil", platform, cookies)
		}
	}
}

func TestStaticSourceReturnsCopies(t *testing.T) {
	src := NewStaticSource(map[string]string{"session": "abc123"})
	cookies, err := src.Cookies(context.Background(), "codechef")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	cookies["session"] = "modified"

	again, err := src.Cookies(context.Background(), "codechef")
	if err != nil {
		t.Fatalf("Cookies failed: %v", err)
	}
	if again["session"] != "abc123" {
		t.Error("StaticSource should return copies")
	}
}

func TestChainSources(t *testing.T) {
	cookies, err := ChainSources(context.Background(), "codechef",
		NewStaticSource(nil),
		NewStaticSource(map[string]string{"token": "from-src2"}),
		NewStaticSource(map[string]string{"token": "from-src3"}),
	)
	if err != nil {
		t.Fatalf("ChainSources failed: %v", err)
	}
	if cookies["token"] != "from-src2" {
		t.Errorf("token = %q, want %q", cookies["token"], "from-src2")
	}

	cookies, err = ChainSources(context.Background(), "codechef", NewStaticSource(nil))
	if err != nil || cookies != nil {
		t.Errorf("ChainSources() = %v, %v; want nil, nil", cookies, err)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		header string
		want   map[string]string
	}{
		{"a=1; b=2", map[string]string{"a": "1", "b": "2"}},
		{" a=1 ;; =x; c=", map[string]string{"a": "1"}},
		{"token=abc=def", map[string]string{"token": "abc=def"}},
		{"", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseHeader(tt.header)); diff != "" {
			t.Errorf("ParseHeader(%q) mismatch (-want +got):\n%s", tt.header, diff)
		}
	}
}

func cookie(name, value string) *kooky.Cookie {
	c := &kooky.Cookie{}
	c.Name = name
	c.Value = value
	return c
}

func TestBrowserFilterKeepsSessionCookies(t *testing.T) {
	s := &BrowserSource{logger: slog.New(slog.DiscardHandler)}
	got := s.filter(context.Background(), []*kooky.Cookie{
		cookie("SESS1a2b", "session"),
		cookie("cf_clearance", "clear"),
		cookie("_ga", "tracking"),
		cookie("SESSempty", ""),
		nil,
	}, "codechef")

	want := map[string]string{"SESS1a2b": "session", "cf_clearance": "clear"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}

	if got := s.filter(context.Background(), []*kooky.Cookie{cookie("_ga", "x")}, "codechef"); got != nil {
		t.Errorf("filter without session cookies = %v, want nil", got)
	}
}

func TestBrowserSourceUnknownPlatform(t *testing.T) {
	cookies, err := NewBrowserSource(nil).Cookies(context.Background(), "github")
	if err != nil || cookies != nil {
		t.Errorf("Cookies() = %v, %v; want nil, nil", cookies, err)
	}
}
