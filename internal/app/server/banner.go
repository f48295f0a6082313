package server

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"sessionmux-core/internal/version"
)

const bannerWidth = 56

var (
	bannerCyan  = color.New(color.FgCyan).SprintFunc()
	bannerBold  = color.New(color.Bold).SprintFunc()
	bannerGreen = color.New(color.FgGreen).SprintFunc()
	bannerFaint = color.New(color.Faint).SprintFunc()
)

// PrintBanner 输出启动信息
func (s *Server) PrintBanner(w io.Writer, configPath string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s  %s\n", bannerCyan(bannerBold("sessionmux")), bannerFaint(version.GetVersion()))
	fmt.Fprintln(w, bannerFaint("  "+strings.Repeat("─", bannerWidth)))

	if configPath == "" {
		configPath = "(defaults + env)"
	}
	rows := []struct {
		label string
		value string
	}{
		{"Instance", s.config.Instance.ID},
		{"Config File", configPath},
		{"Start Time", time.Now().Format("2006-01-02 15:04:05")},
		{"Local Cache", s.localInfo()},
		{"Remote Store", s.remoteInfo()},
		{"Provider", s.config.Provider.Name},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "  %-14s %s\n", row.label, row.value)
	}
	fmt.Fprintln(w, bannerFaint("  "+strings.Repeat("─", bannerWidth)))
	fmt.Fprintln(w)
}

func (s *Server) localInfo() string {
	if s.deps.Embedded != nil {
		return "embedded redis " + s.deps.Embedded.Addr()
	}
	return "redis " + s.config.Storage.Redis.Addr
}

func (s *Server) remoteInfo() string {
	if s.deps.Store == nil || !s.deps.Store.RemoteEnabled() {
		return bannerFaint("disabled")
	}
	sealed := ""
	if !s.config.Storage.SealKey.IsEmpty() {
		sealed = ", sealed"
	}
	return bannerGreen("postgres") + sealed
}
