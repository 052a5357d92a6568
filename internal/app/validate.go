package app

import (
	"fmt"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATSYNC_DB_PATH env, or storage.db_path in config")
	}
	if eff.Config == nil {
		return fmt.Errorf("no effective configuration resolved")
	}
	if eff.Config.Sync.SelfUserID == "" {
		return fmt.Errorf("self user id is empty: set sync.self_user_id in config or CHATSYNC_SELF_USER_ID")
	}
	if r := eff.Config.Sync.Rate; r.RPS < 0 || r.Burst < 0 {
		return fmt.Errorf("sync.rate values must be non-negative")
	}
	if ret := eff.Config.Retention; ret.Enabled && ret.Cron != "" && !gronx.IsValid(ret.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}
	return nil
}
