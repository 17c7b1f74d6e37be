package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/notify-bridge/internal/httputil"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a bridge is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkStatus()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthSummary struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func checkStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Println("Status: Not configured")
		return err
	}
	fmt.Printf("Listen address: %s\n", cfg.ListenAddr)

	if port, err := listenPort(cfg.ListenAddr); err == nil {
		printListener(port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	summary, err := fetchHealth(ctx, cfg.ListenAddr)
	if err != nil {
		fmt.Println("Status: Not running")
		return nil
	}

	fmt.Printf("Status: %s\n", summary.Status)
	names := make([]string, 0, len(summary.Components))
	for name := range summary.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, summary.Components[name])
	}
	return nil
}

func fetchHealth(ctx context.Context, addr string) (*healthSummary, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := httputil.Get(ctx, client, "http://"+addr+"/healthz", nil, httputil.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var summary healthSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	return &summary, nil
}

func listenPort(addr string) (uint32, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint32(port), nil
}

// printListener reports the process bound to port, if the platform lets us
// see it.
func printListener(port uint32) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return
	}
	pid, ok := findListener(conns, port)
	if !ok {
		return
	}

	proc, err := process.NewProcess(pid)
	if err != nil {
		fmt.Printf("PID: %d\n", pid)
		return
	}
	name, _ := proc.Name()
	fmt.Printf("PID: %d (%s)\n", pid, name)
	if created, err := proc.CreateTime(); err == nil {
		fmt.Printf("Started: %s\n", humanize.Time(time.UnixMilli(created)))
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		fmt.Printf("Memory: %s\n", humanize.IBytes(mem.RSS))
	}
}

func findListener(conns []psnet.ConnectionStat, port uint32) (int32, bool) {
	for _, c := range conns {
		if c.Status == "LISTEN" && c.Laddr.Port == port && c.Pid > 0 {
			return c.Pid, true
		}
	}
	return 0, false
}
