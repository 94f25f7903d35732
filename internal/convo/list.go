package convo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// LogSummary is one entry in ListLogs's result: enough to render a
// conversation picker without loading its full message history.
type LogSummary struct {
	Name     string    `json:"name"`
	Dir      string     `json:"dir"`
	ModTime  time.Time `json:"mod_time"`
	Messages int       `json:"message_count"`
}

// ListLogs enumerates conversation directories under logsHome, sorted
// by directory modification time descending (spec.md §10's
// supplemented "Conversation listing/resume" feature, grounded on
// gptme's `--resume` attaching to the most recently modified log). A
// non-positive limit returns every conversation found.
func ListLogs(logsHome string, limit int) ([]LogSummary, error) {
	entries, err := os.ReadDir(logsHome)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("convo: list %s: %w", logsHome, err)
	}

	summaries := make([]LogSummary, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(logsHome, e.Name())
		if _, err := os.Stat(filepath.Join(dir, mainFile)); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		msgs, err := readJSONL(filepath.Join(dir, mainFile))
		count := len(msgs)
		if err != nil {
			count = 0
		}
		summaries = append(summaries, LogSummary{
			Name:     e.Name(),
			Dir:      dir,
			ModTime:  info.ModTime(),
			Messages: count,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ModTime.After(summaries[j].ModTime)
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// MostRecent returns the most recently modified conversation directory
// name under logsHome, used by the CLI's `--resume` flag. ok is false
// when logsHome holds no conversations.
func MostRecent(logsHome string) (name string, ok bool) {
	summaries, err := ListLogs(logsHome, 1)
	if err != nil || len(summaries) == 0 {
		return "", false
	}
	return summaries[0].Name, true
}
