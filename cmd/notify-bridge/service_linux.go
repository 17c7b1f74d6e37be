//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"
)

const linuxServiceName = "notify-bridge"

// The bridge needs the user's session bus, so it runs as a systemd user unit.
const linuxUserUnit = `[Unit]
Description=Desktop notification bridge
After=graphical-session.target
PartOf=graphical-session.target

[Service]
Type=simple
ExecStart=%s run
Restart=on-failure
RestartSec=5

[Install]
WantedBy=graphical-session.target
`

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the bridge as a systemd user service",
}

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStartCmd)
	serviceCmd.AddCommand(serviceStopCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

func userUnitPath() string {
	return filepath.Join(xdg.ConfigHome, "systemd", "user", linuxServiceName+".service")
}

func systemctl(args ...string) (string, error) {
	out, err := exec.Command("systemctl", append([]string{"--user"}, args...)...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}
		exePath, err = filepath.EvalSymlinks(exePath)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}

		unitPath := userUnitPath()
		if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(unitPath), err)
		}
		if err := os.WriteFile(unitPath, []byte(fmt.Sprintf(linuxUserUnit, exePath)), 0o644); err != nil {
			return fmt.Errorf("failed to write unit file: %w", err)
		}
		fmt.Printf("User unit installed to %s\n", unitPath)

		if out, err := systemctl("daemon-reload"); err != nil {
			return fmt.Errorf("failed to reload systemd: %s", out)
		}
		if out, err := systemctl("enable", linuxServiceName); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to enable service: %s\n", out)
		}

		fmt.Println()
		fmt.Println("notify-bridge service installed and enabled.")
		fmt.Println("  Start: notify-bridge service start")
		fmt.Printf("  Logs:  journalctl --user -u %s -f\n", linuxServiceName)
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop, disable and remove the user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		systemctl("stop", linuxServiceName)
		systemctl("disable", linuxServiceName)
		if err := os.Remove(userUnitPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove unit file: %w", err)
		}
		systemctl("daemon-reload")
		fmt.Println("notify-bridge service uninstalled.")
		return nil
	},
}

var serviceStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(userUnitPath()); os.IsNotExist(err) {
			return fmt.Errorf("service not installed, run 'notify-bridge service install' first")
		}
		if out, err := systemctl("start", linuxServiceName); err != nil {
			return fmt.Errorf("failed to start service: %s", out)
		}
		fmt.Println("notify-bridge service started.")
		return nil
	},
}

var serviceStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if out, err := systemctl("stop", linuxServiceName); err != nil {
			return fmt.Errorf("failed to stop service: %s", out)
		}
		fmt.Println("notify-bridge service stopped.")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show user service status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(userUnitPath()); os.IsNotExist(err) {
			fmt.Println("Service: not installed")
			return nil
		}
		// systemctl status exits non-zero for a stopped unit.
		out, _ := systemctl("status", linuxServiceName, "--no-pager")
		fmt.Println(out)
		return nil
	},
}
