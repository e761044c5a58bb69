package ytdlp

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// commandError folds captured stderr into the returned error so failure
// classification downstream sees the extractor's actual message instead
// of a bare exit status.
func commandError(op string, err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("yt-dlp %s: %s", op, tail(string(exitErr.Stderr), 400))
	}
	return fmt.Errorf("yt-dlp %s: %w", op, err)
}

// tail keeps the last n bytes of s, where the most useful part of a
// yt-dlp error report lives.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
