package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/codeGROOVE-dev/codemetrics/pkg/fetch"
	"github.com/codeGROOVE-dev/codemetrics/pkg/profile"
)

// clearEnv unsets every CODEMETRICS_ variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, EnvPrefix) || name == "GITHUB_TOKEN" {
			t.Setenv(name, value)
			os.Unsetenv(name) //nolint:errcheck // restored by t.Setenv cleanup
		}
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	Convey("Given the config loader", t, func() {
		Convey("When nothing is configured", func() {
			cfg, err := Load("")

			Convey("Then defaults apply", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":8080")
				So(cfg.Store, ShouldEqual, "memory")
				So(cfg.RateLimit, ShouldEqual, 2)
				So(cfg.TTLs(), ShouldBeEmpty)
			})
		})

		Convey("When a YAML file and env vars are both set", func() {
			path := filepath.Join(t.TempDir(), "config.yaml")
			data := "addr: \":9000\"\nstore: sqlite\nttl_codeforces: 10m\nlog_level: debug\n"
			So(os.WriteFile(path, []byte(data), 0o600), ShouldBeNil)

			os.Setenv("CODEMETRICS_ADDR", ":9100")      //nolint:errcheck // test setup
			os.Setenv("CODEMETRICS_GITHUB_TOKEN", "ghp") //nolint:errcheck // test setup
			defer os.Unsetenv("CODEMETRICS_ADDR")        //nolint:errcheck // test cleanup
			defer os.Unsetenv("CODEMETRICS_GITHUB_TOKEN") //nolint:errcheck // test cleanup

			cfg, err := Load(path)

			Convey("Then env overrides the file which overrides defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9100")
				So(cfg.Store, ShouldEqual, "sqlite")
				So(cfg.LogLevel, ShouldEqual, "debug")
				So(cfg.GitHubToken, ShouldEqual, "ghp")
				So(cfg.TTLs(), ShouldResemble, map[profile.Platform]time.Duration{profile.Codeforces: 10 * time.Minute})
			})
		})

		Convey("When only GITHUB_TOKEN is set", func() {
			os.Setenv("GITHUB_TOKEN", "fallback") //nolint:errcheck // test setup
			defer os.Unsetenv("GITHUB_TOKEN")      //nolint:errcheck // test cleanup

			cfg, err := Load("")

			Convey("Then it is used as the GitHub token", func() {
				So(err, ShouldBeNil)
				So(cfg.GitHubToken, ShouldEqual, "fallback")
			})
		})

		Convey("When the config file does not exist", func() {
			_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

			Convey("Then loading fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given a config with defaults", t, func() {
		So(New().Validate(), ShouldBeNil)

		cases := map[string]func(*Config){
			"empty addr":        func(c *Config) { c.Addr = "" },
			"unknown store":     func(c *Config) { c.Store = "mongo" },
			"postgres no dsn":   func(c *Config) { c.Store = "postgres" },
			"negative rate":     func(c *Config) { c.RateLimit = -1 },
			"negative ttl":      func(c *Config) { c.TTLCodeChef = -time.Second },
			"unknown log level": func(c *Config) { c.LogLevel = "chatty" },
			"negative timeout":  func(c *Config) { c.TimeoutGitHub = -time.Second },
			"negative retries":  func(c *Config) { c.MaxRetries = -1 },
			"too many retries":  func(c *Config) { c.MaxRetries = MaxRetryLimit + 1 },
		}
		for name, mutate := range cases {
			Convey("Validate rejects "+name, func() {
				cfg := New()
				mutate(cfg)
				So(errors.Is(cfg.Validate(), ErrInvalid), ShouldBeTrue)
			})
		}
	})
}

func TestPolicy(t *testing.T) {
	Convey("Given a client default policy", t, func() {
		base := fetch.Policy{Timeout: 10 * time.Second, MaxRetries: 1, Delay: 2 * time.Second, Jitter: time.Second}

		Convey("Defaults leave it unchanged", func() {
			So(New().Policy(profile.CodeChef, base), ShouldResemble, base)
		})

		Convey("Overrides apply per platform", func() {
			cfg := New()
			cfg.TimeoutCodeforces = 3 * time.Second
			cfg.MaxRetries = 0
			cfg.RetryDelay = 500 * time.Millisecond

			got := cfg.Policy(profile.Codeforces, base)
			So(got.Timeout, ShouldEqual, 3*time.Second)
			So(got.MaxRetries, ShouldEqual, 0)
			So(got.Delay, ShouldEqual, 500*time.Millisecond)
			So(got.Jitter, ShouldEqual, time.Second)

			So(cfg.Policy(profile.GitHub, base).Timeout, ShouldEqual, 10*time.Second)
		})
	})
}
