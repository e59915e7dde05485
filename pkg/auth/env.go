package auth

import (
	"context"
	"os"
)

// platformEnvVars maps platform names to env var name -> cookie name.
var platformEnvVars = map[string]map[string]string{
	"codechef": {
		"CODECHEF_CF_CLEARANCE": "cf_clearance",
	},
}

// EnvSource reads cookies from environment variables. CODECHEF_COOKIE may hold
// a whole Cookie header copied from a browser.
type EnvSource struct{}

// Cookies returns cookies for the given platform from environment variables.
func (EnvSource) Cookies(_ context.Context, platform string) (map[string]string, error) {
	envMap, ok := platformEnvVars[platform]
	if !ok {
		return nil, nil //nolint:nilnil // no cookies for unknown platform is not an error
	}

	if platform == "codechef" {
		if header := os.Getenv("CODECHEF_COOKIE"); header != "" {
			return ParseHeader(header), nil
		}
	}

	cookies := make(map[string]string)
	for envVar, cookieName := range envMap {
		if value := os.Getenv(envVar); value != "" {
			cookies[cookieName] = value
		}
	}
	// The session cookie name varies per site, so it is configured as a pair.
	if name, value := os.Getenv("CODECHEF_SESSION_NAME"), os.Getenv("CODECHEF_SESSION_VALUE"); name != "" && value != "" {
		cookies[name] = value
	}

	if len(cookies) == 0 {
		return nil, nil //nolint:nilnil // no env vars set is not an error
	}
	return cookies, nil
}
