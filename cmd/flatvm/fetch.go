package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"
)

// readURL reads a file path or a file, http, or https URL. If progress is
// set, downloads draw a progress bar on it.
func readURL(ctx context.Context, s string, progress io.Writer) (body []byte, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("read URL %s: %w", s, err)
		}
	}()

	// anything that doesn't parse as a URL with a scheme is a plain path
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return os.ReadFile(s)
	}

	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)

	case "http", "https":
		return download(ctx, u, progress)

	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func download(ctx context.Context, u *url.URL, progress io.Writer) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("response status %d != %d", res.StatusCode, http.StatusOK)
	}

	buf := new(bytes.Buffer)
	var w io.Writer = buf

	if progress != nil {
		// progressbar.DefaultBytes, but drawn on progress instead of stderr
		bar := progressbar.NewOptions64(res.ContentLength,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("download "+path.Base(u.Path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(progress, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
			progressbar.OptionSetRenderBlankState(true))

		defer bar.Close()
		w = io.MultiWriter(buf, bar)
	}

	if _, err := io.Copy(w, res.Body); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
