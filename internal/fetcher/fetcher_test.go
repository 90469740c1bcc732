package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediagrab/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTool creates an executable shell script standing in for gallery-dl.
// The script sees the same argv the real tool would.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-gallery-dl")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const recordingTool = `
cookies=""; dir=""; url=""
while [ $# -gt 0 ]; do
  case "$1" in
    --cookies) cookies="$2"; shift 2 ;;
    --directory) dir="$2"; shift 2 ;;
    *) url="$1"; shift ;;
  esac
done
printf '%s' "$cookies" > "$dir/cookie-path"
cp "$cookies" "$dir/cookie-copy"
printf '%s' "$url" > "$dir/url"
printf 'jpg' > "$dir/a.jpg"
`

func TestFetch_MissingCookies_NoSubprocess(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	tool := writeTool(t, "touch "+marker)
	f := New(Config{Tool: tool, CookieDir: t.TempDir()})

	err := f.Fetch(context.Background(), "https://x.com/a/status/1", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCookiesNotFound)
	assert.Equal(t, domain.KindConfig, domain.KindOf(err))
	assert.Contains(t, err.Error(), "cookies not found")

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "tool must not be invoked")
}

func TestFetch_PassesArgsAndCleansCookieFile(t *testing.T) {
	out := t.TempDir()
	cookieDir := t.TempDir()
	f := New(Config{
		Tool:      writeTool(t, recordingTool),
		Cookies:   "# Netscape HTTP Cookie File\n.x.com\tTRUE\t/\tTRUE\t0\tauth_token\tabc\n",
		CookieDir: cookieDir,
	})

	err := f.Fetch(context.Background(), "https://x.com/a/status/1", out)
	require.NoError(t, err)

	url, err := os.ReadFile(filepath.Join(out, "url"))
	require.NoError(t, err)
	assert.Equal(t, "https://x.com/a/status/1", string(url))

	copied, err := os.ReadFile(filepath.Join(out, "cookie-copy"))
	require.NoError(t, err)
	assert.Contains(t, string(copied), "auth_token")

	cookiePath, err := os.ReadFile(filepath.Join(out, "cookie-path"))
	require.NoError(t, err)
	assert.Equal(t, cookieDir, filepath.Dir(string(cookiePath)))
	_, statErr := os.Stat(string(cookiePath))
	assert.True(t, os.IsNotExist(statErr), "cookie file must be removed after the run")

	_, err = os.Stat(filepath.Join(out, "a.jpg"))
	assert.NoError(t, err)
}

func TestFetch_CookieFilesAreUniquePerRequest(t *testing.T) {
	cookieDir := t.TempDir()
	f := New(Config{Tool: writeTool(t, recordingTool), Cookies: "c", CookieDir: cookieDir})

	out1, out2 := t.TempDir(), t.TempDir()
	require.NoError(t, f.Fetch(context.Background(), "https://x.com/a/status/1", out1))
	require.NoError(t, f.Fetch(context.Background(), "https://x.com/a/status/2", out2))

	p1, _ := os.ReadFile(filepath.Join(out1, "cookie-path"))
	p2, _ := os.ReadFile(filepath.Join(out2, "cookie-path"))
	assert.NotEqual(t, string(p1), string(p2))
}

func TestFetch_NonZeroExit_IncludesStderr(t *testing.T) {
	f := New(Config{
		Tool:      writeTool(t, `echo "[twitter][error] 401 Unauthorized" >&2; exit 1`),
		Cookies:   "c",
		CookieDir: t.TempDir(),
	})

	err := f.Fetch(context.Background(), "https://x.com/a/status/1", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolFailed)
	assert.Equal(t, domain.KindTool, domain.KindOf(err))
	assert.Contains(t, err.Error(), "401 Unauthorized")
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestFetch_ToolNotFound(t *testing.T) {
	f := New(Config{
		Tool:      filepath.Join(t.TempDir(), "does-not-exist"),
		Cookies:   "c",
		CookieDir: t.TempDir(),
	})

	err := f.Fetch(context.Background(), "https://x.com/a/status/1", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolFailed)
}

func TestFetch_Timeout(t *testing.T) {
	f := New(Config{
		Tool:      writeTool(t, "exec sleep 5"),
		Cookies:   "c",
		CookieDir: t.TempDir(),
		Timeout:   200 * time.Millisecond,
	})

	start := time.Now()
	err := f.Fetch(context.Background(), "https://x.com/a/status/1", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrToolTimeout)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestFetch_Cancelled(t *testing.T) {
	f := New(Config{Tool: writeTool(t, "exec sleep 5"), Cookies: "c", CookieDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := f.Fetch(ctx, "https://x.com/a/status/1", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFetch_RateLimitedWaitHonorsCancel(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	limiter := NewRateLimiter(1, 0.5)
	f := New(Config{
		Tool:      writeTool(t, "touch "+marker),
		Cookies:   "c",
		CookieDir: t.TempDir(),
		Limiter:   limiter,
	})

	require.NoError(t, f.Fetch(context.Background(), "https://x.com/a/status/1", t.TempDir()))
	require.NoError(t, os.Remove(marker))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.Fetch(ctx, "https://x.com/a/status/2", t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.KindTool, domain.KindOf(err))

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "throttled fetch must not invoke the tool")
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("e", defaultMaxStderrSize+10)
	got := truncate(long)
	assert.True(t, strings.HasSuffix(got, "(output truncated)"))
	assert.Equal(t, "short", truncate("  short\n"))
}
