package main

import (
	"fmt"
	"strconv"
	"time"
)

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "s"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatSegment(index int) string {
	if index < 0 {
		return "-"
	}
	return strconv.Itoa(index)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
