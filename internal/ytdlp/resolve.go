package ytdlp

import (
	"context"
	"encoding/json"
	"os/exec"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/internal/media"
)

// probeInfo mirrors the subset of `yt-dlp -J` output the bot cares about.
// Sizes are float64 because yt-dlp emits approximations in scientific
// notation for some extractors.
type probeInfo struct {
	Title          string        `json:"title"`
	Duration       float64       `json:"duration"`
	FilesizeApprox float64       `json:"filesize_approx"`
	Formats        []probeFormat `json:"formats"`
}

type probeFormat struct {
	FormatID       string  `json:"format_id"`
	Height         int     `json:"height"`
	Vcodec         string  `json:"vcodec"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
}

// Resolve probes the locator without downloading and returns display
// metadata plus the selectable video renditions. Results are served from
// the probe cache within its TTL.
func (c *Client) Resolve(ctx context.Context, locator string) (media.Metadata, error) {
	locator = NormalizeLocator(locator)

	if cached, found := c.probeCache.Get(locator); found {
		return cached.(media.Metadata), nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.ResolveTimeoutSec)*time.Second)
	defer cancel()

	args := []string{"-J", "--no-playlist", "--no-warnings"}
	args = append(args, c.cookieArgs()...)
	args = append(args, locator)

	start := time.Now()
	cmd := exec.CommandContext(probeCtx, c.cfg.YtdlpPath, args...)
	output, err := cmd.Output()
	if err != nil {
		c.logger.Error("Probe failed",
			zap.String("locator", locator),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return media.Metadata{}, commandError("probe", err)
	}

	meta, err := parseProbe(output)
	if err != nil {
		c.logger.Error("Probe output unparseable",
			zap.String("locator", locator),
			zap.Error(err))
		return media.Metadata{}, err
	}

	c.logger.Info("Probe completed",
		zap.String("locator", locator),
		zap.String("title", meta.Title),
		zap.Int("video_options", len(meta.VideoOptions)),
		zap.Duration("duration", time.Since(start)))

	c.probeCache.Set(locator, meta, cache.DefaultExpiration)
	return meta, nil
}

// parseProbe converts raw -J output into Metadata. Video renditions are
// deduplicated by height, keeping the first format seen for each, and
// sorted tallest first for the quality menu.
func parseProbe(raw []byte) (media.Metadata, error) {
	var info probeInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return media.Metadata{}, err
	}

	meta := media.Metadata{
		Title:           info.Title,
		ApproxSizeBytes: int64(info.FilesizeApprox),
		DurationSeconds: int(info.Duration),
	}
	if meta.Title == "" {
		meta.Title = "Unknown Title"
	}

	seen := make(map[int]bool)
	for _, f := range info.Formats {
		if f.Vcodec == "" || f.Vcodec == "none" || f.Height <= 0 {
			continue
		}
		if seen[f.Height] {
			continue
		}
		seen[f.Height] = true

		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		meta.VideoOptions = append(meta.VideoOptions, media.VideoOption{
			FormatID:  f.FormatID,
			Height:    f.Height,
			SizeBytes: int64(size),
		})
	}

	sort.Slice(meta.VideoOptions, func(i, j int) bool {
		return meta.VideoOptions[i].Height > meta.VideoOptions[j].Height
	})

	return meta, nil
}
