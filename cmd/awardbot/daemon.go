package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"awardbot/internal/config"

	"github.com/spf13/cobra"
)

func installDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install 'awardbot start' as a user service (launchd/systemd)",
		Long:  "Generates and installs a service file that runs 'awardbot start' in the background on login.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, err := filepath.Abs(config.ExpandPath(resolveConfigPath()))
			if err != nil {
				return err
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}

			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(execPath, cfgPath)
			case "linux":
				return installSystemd(execPath, cfgPath)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the awardbot user service",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch runtime.GOOS {
			case "darwin":
				return uninstallLaunchd()
			case "linux":
				return uninstallSystemd()
			default:
				return fmt.Errorf("unsupported OS: %s", runtime.GOOS)
			}
		},
	}
}

const (
	launchdLabel = "tw.edu.nycu.awardbot"
	systemdUnit  = "awardbot.service"
)

// renderService fills a service template. Keys are the placeholder names
// without braces.
func renderService(tmpl string, values map[string]string) string {
	for k, v := range values {
		tmpl = strings.ReplaceAll(tmpl, "{{"+k+"}}", v)
	}
	return tmpl
}

func installLaunchd(execPath, cfgPath string) error {
	home, _ := os.UserHomeDir()
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	plistPath := filepath.Join(plistDir, launchdLabel+".plist")

	logDir := filepath.Join(config.DefaultConfigDir(), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}

	plist := renderService(launchdTemplate, map[string]string{
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"LABEL":   launchdLabel,
		"LOG":     filepath.Join(logDir, "awardbot.log"),
		"ERR_LOG": filepath.Join(logDir, "awardbot-error.log"),
	})

	if err := os.MkdirAll(plistDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(plist), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func uninstallLaunchd() error {
	home, _ := os.UserHomeDir()
	plistPath := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
	if err := os.Remove(plistPath); err != nil {
		return fmt.Errorf("remove plist: %w", err)
	}
	fmt.Printf("Service uninstalled: %s\n", plistPath)
	return nil
}

func installSystemd(execPath, cfgPath string) error {
	home, _ := os.UserHomeDir()
	unitDir := filepath.Join(home, ".config", "systemd", "user")
	unitPath := filepath.Join(unitDir, systemdUnit)

	unit := renderService(systemdTemplate, map[string]string{
		"EXEC":   execPath,
		"CONFIG": cfgPath,
	})

	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(unit), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start awardbot\n")
	fmt.Printf("To enable: systemctl --user enable awardbot\n")
	fmt.Printf("To stop:   systemctl --user stop awardbot\n")
	return nil
}

func uninstallSystemd() error {
	home, _ := os.UserHomeDir()
	unitPath := filepath.Join(home, ".config", "systemd", "user", systemdUnit)
	if err := os.Remove(unitPath); err != nil {
		return fmt.Errorf("remove unit: %w", err)
	}
	fmt.Printf("Service uninstalled: %s\n", unitPath)
	return nil
}

// SIGTERM from either service manager triggers the graceful shutdown in
// 'awardbot start'.
const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>start</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=awardbot award announcement publisher
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} start --config {{CONFIG}}
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target`
