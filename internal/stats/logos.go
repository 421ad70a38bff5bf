package stats

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fortuna/lheq/internal/jsonfile"
)

// LogoDir is where logos live, relative to the web directory.
const LogoDir = "assets/logos"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// logoBaseName turns a team id into a file name without extension.
func logoBaseName(id ID) string {
	name := strings.Trim(unsafeFileChars.ReplaceAllString(string(id), "_"), "_")
	if name == "" {
		return "team"
	}
	return name
}

// DownloadTeamLogos stores each team's logo under assets/logos and records
// the relative path in local_logo. Logos already on disk are reused and
// failed downloads are logged and skipped.
func (c *Compiler) DownloadTeamLogos(ctx context.Context) error {
	if !c.processed {
		return ErrNotProcessed
	}

	dir := filepath.Join(c.webDir, filepath.FromSlash(LogoDir))
	var (
		mu                         sync.Mutex
		reused, downloaded, failed int
	)

	g := new(errgroup.Group)
	g.SetLimit(c.logoConcurrency)

	for _, t := range c.teams {
		if t.LogoURL == "" {
			continue
		}
		base := logoBaseName(t.ID)
		if existing := findLogo(dir, base); existing != "" {
			t.LocalLogo = LogoDir + "/" + existing
			reused++
			continue
		}
		if c.fetcher == nil {
			continue
		}

		t := t
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			img, err := c.fetcher.Fetch(ctx, t.LogoURL)
			if err == nil {
				err = jsonfile.WriteAtomic(filepath.Join(dir, base+img.Ext), img.Data)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				c.logger.Warn().Err(err).Str("team", t.Name).Str("url", t.LogoURL).Msg("logo download failed")
				return nil
			}
			t.LocalLogo = LogoDir + "/" + base + img.Ext
			downloaded++
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	c.logger.Info().Int("downloaded", downloaded).Int("reused", reused).Int("failed", failed).Msg("team logos ready")
	return nil
}

func findLogo(dir, base string) string {
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && fi.Mode().IsRegular() && !strings.HasPrefix(filepath.Base(m), ".") {
			return filepath.Base(m)
		}
	}
	return ""
}
