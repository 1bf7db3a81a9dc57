package daemon

import (
	"sync"

	"github.com/matheus3301/chatlink/internal/config"
	"github.com/matheus3301/chatlink/internal/lock"
	"github.com/matheus3301/chatlink/internal/session"
	"go.uber.org/zap"
)

// userRecorder persists the signed-in user to the lock file and the session
// config. Login and Logout handlers call it concurrently.
type userRecorder struct {
	mu         sync.Mutex
	cfg        *config.Config
	configPath string
	lock       *lock.Lock
	logger     *zap.Logger
}

func provideUserRecorder(p Params, cfg *config.Config, lk *lock.Lock, logger *zap.Logger) *userRecorder {
	return &userRecorder{cfg: cfg, configPath: p.configPath(), lock: lk, logger: logger}
}

// Record stores userID. The config file is only rewritten when it changes.
func (r *userRecorder) Record(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.lock.SetUser(userID); err != nil {
		r.logger.Warn("error updating lock owner", zap.Error(err))
	}
	if r.cfg.UserID == userID {
		return
	}
	r.cfg.UserID = userID
	if err := config.Save(r.configPath, r.cfg); err != nil {
		r.logger.Warn("error saving signed-in user", zap.Error(err))
	}
}

// Resolve returns the user to sign in at startup: the flag override, else
// the user saved in the config.
func (r *userRecorder) Resolve(flagOverride int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return session.ResolveUser(flagOverride, r.cfg)
}
