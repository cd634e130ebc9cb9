package config

import (
	"os"
	"regexp"
	"strings"
)

// These three patterns are applied in order: a defaulted reference first
// (${VAR:-default}), then a braced reference (${VAR}), then a bare
// reference ($VAR). None nest quantifiers, so expansion stays linear in
// the length of the input string regardless of how many variables it
// names.
var (
	withDefault = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-([^}]*)\}`)
	braced      = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	bare        = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// ExpandEnv rewrites ${VAR}, ${VAR:-default}, and $VAR references in s
// using os.Getenv, leaving unmatched text untouched.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}

	s = withDefault.ReplaceAllStringFunc(s, func(match string) string {
		parts := withDefault.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})

	s = braced.ReplaceAllStringFunc(s, func(match string) string {
		parts := braced.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})

	s = bare.ReplaceAllStringFunc(s, func(match string) string {
		parts := bare.FindStringSubmatch(match)
		return os.Getenv(parts[1])
	})

	return s
}

// expandStruct walks the known string fields of a Config and applies
// ExpandEnv. Kept explicit (rather than reflective) since the field set is
// small and fixed, favoring predictable, linear-time config processing
// over generic reflection-based walking.
func expandStruct(c *Config) {
	c.AssetsDir = ExpandEnv(c.AssetsDir)
	c.APIKeys.ElevenLabs = ExpandEnv(c.APIKeys.ElevenLabs)
	c.APIKeys.Freesound = ExpandEnv(c.APIKeys.Freesound)
	c.APIKeys.Flux = ExpandEnv(c.APIKeys.Flux)
	c.APIEndpoints.ElevenLabs = ExpandEnv(c.APIEndpoints.ElevenLabs)
	c.APIEndpoints.Flux = ExpandEnv(c.APIEndpoints.Flux)
	c.Remotion.BrowserExecutable = ExpandEnv(c.Remotion.BrowserExecutable)
	c.Logging.File = ExpandEnv(c.Logging.File)
}

// applyEnvOverrides layers the recognized environment variables on top of
// whatever the YAML file set, with env winning.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("REMOTION_ASSETS_DIR"); v != "" {
		c.AssetsDir = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.APIKeys.ElevenLabs = v
	}
	if v := os.Getenv("FREESOUND_API_KEY"); v != "" {
		c.APIKeys.Freesound = v
	}
	if v := os.Getenv("FLUX_API_KEY"); v != "" {
		c.APIKeys.Flux = v
	}
	if v, ok := os.LookupEnv("AUDIO_ENABLED"); ok {
		c.AudioEnabled = truthyEnv(v)
	}
}

// truthyEnv reports whether v, a raw environment variable value, spells an
// enabled/true setting.
func truthyEnv(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes"
}
