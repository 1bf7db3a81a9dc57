package session

import "github.com/matheus3301/chatlink/internal/config"

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ResolveUser picks the signed-in user: a positive flag value wins over the
// stored config. Zero means nobody is signed in.
func ResolveUser(flagOverride int64, cfg *config.Config) int64 {
	if flagOverride > 0 {
		return flagOverride
	}
	if cfg == nil {
		return 0
	}
	return cfg.UserID
}
