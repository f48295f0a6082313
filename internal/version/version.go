// Package version 构建版本信息，通过 -ldflags 注入
package version

import "runtime/debug"

var (
	// Version 版本号
	Version = "dev"

	// BuildTime 构建时间
	BuildTime = ""

	// GitCommit Git 提交哈希
	GitCommit = ""
)

func init() {
	if GitCommit != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				GitCommit = s.Value
			}
		}
	}
}

// GetVersion 获取完整版本信息
func GetVersion() string {
	v := "v" + Version
	if BuildTime != "" {
		v += " (built " + BuildTime + ")"
	}
	if GitCommit != "" {
		commit := GitCommit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		v += " commit " + commit
	}
	return v
}

// GetShortVersion 获取简短版本号
func GetShortVersion() string {
	return "v" + Version
}
