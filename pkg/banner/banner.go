package banner

import (
	"fmt"

	"chatsync/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ███████║███████║   ██║   ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██╔══██║██╔══██║   ██║   ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗██║  ██║██║  ██║   ██║   ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// PrintWithEff prints the startup banner with the effective runtime info.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if eff.Config != nil {
		fmt.Printf("Self:     %s\n", eff.Config.Sync.SelfUserID)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl 'http://localhost:%d/v1/conversations'\n", portOf(eff))
	fmt.Printf("curl 'http://localhost:%d/v1/conversations/c1/messages?limit=50'\n", portOf(eff))
	fmt.Printf("curl -X POST 'http://localhost:%d/v1/conversations/c1/sync'\n", portOf(eff))

	fmt.Println("\n== Production? =================================================")
	if eff.Config != nil && eff.Config.Sync.SelfUserID == "" {
		fmt.Println("- Self user id: MISSING (set sync.self_user_id or CHATSYNC_SELF_USER_ID)")
	} else {
		fmt.Println("- Self user id: OK")
	}
	if eff.DBPath != "" {
		fmt.Printf("- DB Path: %s\n", eff.DBPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or CHATSYNC_DB_PATH)")
	}
	if eff.Config != nil && eff.Config.Retention.Enabled {
		cron := eff.Config.Retention.Cron
		if cron == "" {
			cron = "0 2 * * *"
		}
		fmt.Printf("- Retention: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs: =================================================")
}

func portOf(eff config.EffectiveConfigResult) int {
	if eff.Config != nil && eff.Config.Server.Port != 0 {
		return eff.Config.Server.Port
	}
	return 8080
}
