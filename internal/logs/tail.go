package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const pollInterval = 250 * time.Millisecond

// Options controls a Tail call. Offset < 0 means "last Limit lines".
type Options struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// Page is one batch of lines and the offset to resume from.
type Page struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// Tail reads lines from path. A missing file yields an empty page so callers
// can poll a run that has not logged yet.
func Tail(ctx context.Context, path string, opts Options) (Page, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Page{}, nil
	case err != nil:
		return Page{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return Page{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	wait := max(opts.Wait, 0)

	var page Page
	if opts.Offset < 0 {
		page, err = lastLines(path, opts.Limit)
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// Truncated or rotated; restart from the end.
			offset = info.Size()
		}
		page, err = readFrom(path, offset)
	}
	if err != nil {
		return page, err
	}
	if opts.Follow && wait > 0 && len(page.Lines) == 0 {
		return waitForLines(ctx, path, page.Offset, wait)
	}
	return page, nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

func lastLines(path string, limit int) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return Page{}, fmt.Errorf("seek log file: %w", err)
		}
		return Page{Offset: end}, nil
	}

	ring := make([]string, limit)
	count, next := 0, 0
	scanner := newScanner(file)
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % limit
		count = min(count+1, limit)
	}
	if err := scanner.Err(); err != nil {
		return Page{}, fmt.Errorf("read log file: %w", err)
	}
	end, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return Page{}, fmt.Errorf("seek log file: %w", err)
	}

	lines := make([]string, count)
	start := 0
	if count == limit {
		start = next
	}
	for i := 0; i < count; i++ {
		lines[i] = ring[(start+i)%limit]
	}
	return Page{Lines: lines, Offset: end}, nil
}

func readFrom(path string, offset int64) (Page, error) {
	file, err := os.Open(path)
	if err != nil {
		return Page{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Page{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}
	// Only complete lines are consumed so a half-written record is re-read
	// on the next call.
	reader := bufio.NewReaderSize(file, 64*1024)
	page := Page{Offset: offset}
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return page, fmt.Errorf("read log file: %w", err)
		}
		page.Offset += int64(len(line))
		page.Lines = append(page.Lines, line[:len(line)-1])
	}
	return page, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration) (Page, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		page, err := readFrom(path, offset)
		if err != nil || len(page.Lines) > 0 || time.Now().After(deadline) {
			return page, err
		}
		select {
		case <-ctx.Done():
			return Page{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}
