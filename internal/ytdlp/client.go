package ytdlp

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Client shells out to the yt-dlp binary for metadata probes and media
// fetches. It implements media.Resolver and media.Fetcher. Probe results
// are cached so the quality menu and the queued download don't pay for
// the same network round trip twice.
type Client struct {
	cfg        *config.Config
	probeCache *cache.Cache
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	ttl := time.Duration(cfg.ResolveCacheTTLSec) * time.Second
	return &Client{
		cfg:        cfg,
		probeCache: cache.New(ttl, 2*ttl),
		logger:     logger.With(zap.String("component", "ytdlp")),
	}
}

// CheckTools verifies yt-dlp and ffmpeg are reachable before the bot
// starts accepting work. Failing late inside a task produces much worse
// error messages than failing here.
func (c *Client) CheckTools() error {
	if _, err := exec.LookPath(c.cfg.YtdlpPath); err != nil {
		return fmt.Errorf("yt-dlp binary not found (%s): %w", c.cfg.YtdlpPath, err)
	}
	if _, err := exec.LookPath(c.cfg.FfmpegPath); err != nil {
		return fmt.Errorf("ffmpeg binary not found (%s): %w", c.cfg.FfmpegPath, err)
	}
	return nil
}

// NormalizeLocator rewrites common YouTube URL variants (mobile, music,
// short links) to the canonical watch form.
func NormalizeLocator(raw string) string {
	url := strings.TrimSpace(raw)
	url = strings.ReplaceAll(url, "m.youtube.com", "www.youtube.com")
	url = strings.ReplaceAll(url, "music.youtube.com", "www.youtube.com")
	if idx := strings.Index(url, "youtu.be/"); idx >= 0 {
		videoID := url[idx+len("youtu.be/"):]
		if q := strings.IndexByte(videoID, '?'); q >= 0 {
			videoID = videoID[:q]
		}
		return "https://www.youtube.com/watch?v=" + videoID
	}
	return url
}

// cookieArgs returns the --cookies flag when the configured cookie file
// actually exists on disk.
func (c *Client) cookieArgs() []string {
	if c.cfg.CookieFile == "" {
		return nil
	}
	if _, err := os.Stat(c.cfg.CookieFile); err != nil {
		return nil
	}
	return []string{"--cookies", c.cfg.CookieFile}
}
