package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/model"
)

var progressRe = regexp.MustCompile(`^\[download\]\s+([0-9.]+)%`)

// Fetch downloads the media described by spec into destDir, streaming
// progress lines from yt-dlp into onProgress. The artifact lands under a
// deterministic name so the final path is known before the process runs.
func (c *Client) Fetch(ctx context.Context, spec model.TaskSpec, destDir string, onProgress media.ProgressFunc) (media.Artifact, error) {
	locator := NormalizeLocator(spec.SourceURL)

	baseName := model.SanitizeName(spec.DesiredName)
	if baseName == "" {
		meta, err := c.Resolve(ctx, locator)
		if err != nil {
			return media.Artifact{}, err
		}
		baseName = model.SanitizeName(meta.Title)
	}
	if baseName == "" {
		baseName = "download"
	}

	finalExt := ".mp4"
	if spec.Kind == model.KindAudio {
		finalExt = ".mp3"
	}
	outTemplate := filepath.Join(destDir, baseName+".%(ext)s")

	args := []string{
		"--newline",
		"--no-playlist",
		"--no-warnings",
		"--retries", "5",
		"--fragment-retries", "5",
		"--user-agent", browserUserAgent,
		"-o", outTemplate,
	}
	args = append(args, c.cookieArgs()...)
	args = append(args, formatArgs(spec)...)
	args = append(args, locator)

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.FetchTimeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	c.logger.Info("Fetch starting",
		zap.String("locator", locator),
		zap.String("kind", string(spec.Kind)),
		zap.String("base_name", baseName))

	cmd := exec.CommandContext(fetchCtx, c.cfg.YtdlpPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return media.Artifact{}, fmt.Errorf("yt-dlp stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return media.Artifact{}, fmt.Errorf("yt-dlp start: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if fraction, rate, eta, ok := parseProgressLine(scanner.Text()); ok && onProgress != nil {
			onProgress(fraction, rate, eta)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("Reading yt-dlp output failed", zap.Error(err))
	}

	if err := cmd.Wait(); err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded {
			return media.Artifact{}, fmt.Errorf("yt-dlp fetch timed out after %ds", c.cfg.FetchTimeoutSec)
		}
		c.logger.Error("Fetch failed",
			zap.String("locator", locator),
			zap.Duration("duration", time.Since(start)),
			zap.String("stderr", tail(stderr.String(), 400)),
			zap.Error(err))
		return media.Artifact{}, fmt.Errorf("yt-dlp fetch: %s", tail(stderr.String(), 400))
	}

	artifactPath, size, err := locateArtifact(destDir, baseName, finalExt)
	if err != nil {
		return media.Artifact{}, err
	}

	c.logger.Info("Fetch completed",
		zap.String("path", artifactPath),
		zap.Int64("size_bytes", size),
		zap.Duration("duration", time.Since(start)))

	return media.Artifact{Path: artifactPath, SizeBytes: size}, nil
}

// formatArgs builds the selector and post-processing flags for the
// requested output kind. Video selectors try the chosen rendition plus
// best audio first, then progressively looser fallbacks, mirroring how
// extractors with muxed-only streams behave.
func formatArgs(spec model.TaskSpec) []string {
	if spec.Kind == model.KindAudio {
		return []string{
			"-f", "bestaudio/best",
			"-x",
			"--audio-format", "mp3",
			"--audio-quality", "192K",
		}
	}

	quality := spec.Quality
	selector := "bestvideo+bestaudio/best"
	if quality != "" && quality != "best" {
		selector = fmt.Sprintf("%s+bestaudio/bestvideo[height<=?%s]+bestaudio/best", quality, quality)
	}
	return []string{
		"-f", selector,
		"--recode-video", "mp4",
		"--embed-metadata",
	}
}

// parseProgressLine extracts the completed fraction plus rate and ETA
// labels from one `--newline` progress line. Lines that are not download
// progress report ok=false.
func parseProgressLine(line string) (fraction float64, rate, eta string, ok bool) {
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return 0, "", "", false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, "", "", false
	}

	if i := strings.Index(line, " at "); i >= 0 {
		rest := line[i+len(" at "):]
		if j := strings.Index(rest, " ETA "); j >= 0 {
			rate = strings.TrimSpace(rest[:j])
			eta = strings.TrimSpace(rest[j+len(" ETA "):])
		} else {
			rate = strings.TrimSpace(rest)
		}
	}
	if strings.HasPrefix(rate, "Unknown") {
		rate = ""
	}
	if eta == "Unknown" {
		eta = ""
	}
	return pct / 100, rate, eta, true
}

// locateArtifact finds the finished file. The expected path is known
// up front, but post-processing can land on a different extension when
// remuxing was unnecessary, so fall back to scanning for the base name.
func locateArtifact(destDir, baseName, finalExt string) (string, int64, error) {
	expected := filepath.Join(destDir, baseName+finalExt)
	if info, err := os.Stat(expected); err == nil {
		return expected, info.Size(), nil
	}

	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", 0, fmt.Errorf("scanning download dir: %w", err)
	}

	var bestPath string
	var bestSize int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, baseName+".") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			bestPath = filepath.Join(destDir, name)
			bestSize = info.Size()
		}
	}

	if bestPath == "" {
		return "", 0, fmt.Errorf("yt-dlp reported success but no artifact found for %q", baseName)
	}
	return bestPath, bestSize, nil
}
