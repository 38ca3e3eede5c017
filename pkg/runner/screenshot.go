package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/driver"
)

func screenshotName(test string, at time.Time) string {
	return fmt.Sprintf("%s_%d.png", test, at.UnixMilli())
}

func writeScreenshot(ctx context.Context, d *driver.Adapter, dir, name string) (string, error) {
	png, err := d.Screenshot(ctx)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

// failureScreenshot captures the viewport as it was when the run failed.
func failureScreenshot(ctx context.Context, d *driver.Adapter, dir, test string, at time.Time) (string, error) {
	return writeScreenshot(ctx, d, dir, screenshotName(test, at))
}

// successScreenshot grows the window to the page's scroll size first, so the
// capture holds the whole page.
func successScreenshot(ctx context.Context, d *driver.Adapter, cfg ScreenshotConfig, test string, at time.Time) (string, error) {
	w, err := scriptInt(ctx, d, "return document.body.scrollWidth")
	if err != nil {
		return "", err
	}
	h, err := scriptInt(ctx, d, "return document.body.scrollHeight")
	if err != nil {
		return "", err
	}
	if err := d.SetWindowSize(ctx, w, h); err != nil {
		return "", err
	}
	name := cfg.SuccessFile
	if name == "" {
		name = screenshotName(test, at)
	}
	return writeScreenshot(ctx, d, cfg.SuccessDir, name)
}

func scriptInt(ctx context.Context, d *driver.Adapter, script string) (int, error) {
	v, err := d.ExecuteScript(ctx, script, nil)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case json.Number:
		f, err := n.Float64()
		return int(f), err
	}
	return 0, fmt.Errorf("%s: unexpected result %v (%T)", script, v, v)
}
