package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"sessionmux-core/internal/session"
	"sessionmux-core/internal/session/model"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorWarning = color.New(color.FgYellow).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
	colorFaint   = color.New(color.Faint).SprintFunc()
)

// recordStatus 记录状态着色
func recordStatus(s model.Status) string {
	switch s {
	case model.StatusActive:
		return colorSuccess(string(s))
	case model.StatusDeleted:
		return colorError(string(s))
	default:
		return colorWarning(string(s))
	}
}

// liveStatus 回调状态着色
func liveStatus(s session.Status) string {
	switch s {
	case session.StatusConnected, session.StatusDeleted:
		return colorSuccess(string(s))
	case session.StatusRegistrationFailed:
		return colorError(string(s))
	case session.StatusAlreadyRunning, session.StatusAlreadyInProgress:
		return colorWarning(string(s))
	default:
		return colorInfo(string(s))
	}
}

// printRecords 表格输出会话记录
func printRecords(w io.Writer, records []*model.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, colorFaint("no sessions"))
		return
	}

	headers := []string{"OWNER", "DEVICE", "STATUS", "CREDS", "KEYS", "UPDATED"}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.OwnerID,
			r.DeviceID,
			string(r.Status),
			fmt.Sprintf("%dB", len(r.Credentials)),
			fmt.Sprintf("%d", r.KeyMaterial.Len()),
			r.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], len(cell))
		}
	}

	for i, h := range headers {
		fmt.Fprint(w, colorBold(pad(h, widths[i])), "  ")
	}
	fmt.Fprintln(w)
	for ri, row := range rows {
		for i, cell := range row {
			text := pad(cell, widths[i])
			// 先补齐再着色，颜色控制符不计入宽度
			if i == 2 {
				text = strings.Replace(text, cell, recordStatus(records[ri].Status), 1)
			}
			fmt.Fprint(w, text, "  ")
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%s\n", colorFaint(fmt.Sprintf("%d session(s)", len(records))))
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
