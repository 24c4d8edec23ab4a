package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/jlaffaye/ftp"
	"golang.org/x/sync/errgroup"

	"github.com/lox/taxiemissions/internal/httputil"
	"github.com/lox/taxiemissions/internal/logging"
	"github.com/lox/taxiemissions/internal/metrics"
	"github.com/lox/taxiemissions/internal/models"
)

// ErrDownload marks a failed source file fetch. Retries have already been
// spent by the time it is returned.
var ErrDownload = errors.New("download failed")

// DownloadError carries the file that could not be fetched.
type DownloadError struct {
	URL  string
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s -> %s: %v", ErrDownload, e.URL, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() []error { return []error{ErrDownload, e.Err} }

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	BaseURL     string
	DataDir     string
	Timeout     time.Duration
	MaxRetries  int
	Concurrency int
	Client      *http.Client
	Logger      *slog.Logger
	// NewBackOff overrides the retry schedule, mainly for tests.
	NewBackOff func() backoff.BackOff
}

// Downloader fetches monthly trip files into the data directory.
type Downloader struct {
	base        *url.URL
	dataDir     string
	timeout     time.Duration
	maxRetries  int
	concurrency int
	client      *http.Client
	logger      *slog.Logger
	newBackOff  func() backoff.BackOff
}

// DownloadResult describes one monthly file.
type DownloadResult struct {
	Fleet   models.Fleet
	Month   int
	URL     string
	Path    string
	Bytes   int64
	Skipped bool
}

func NewDownloader(opts DownloadOptions) (*Downloader, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch base.Scheme {
	case "http", "https", "ftp":
	default:
		return nil, fmt.Errorf("unsupported download scheme %q", base.Scheme)
	}

	d := &Downloader{
		base:        base,
		dataDir:     opts.DataDir,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		concurrency: opts.Concurrency,
		client:      opts.Client,
		logger:      logging.WithComponent(opts.Logger, "download"),
		newBackOff:  opts.NewBackOff,
	}
	if d.concurrency < 1 {
		d.concurrency = 1
	}
	if d.client == nil {
		d.client = httputil.NewClient(d.timeout)
	}
	if d.newBackOff == nil {
		d.newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 2 * time.Second
			bo.MaxElapsedTime = 10 * time.Minute
			return bo
		}
	}
	return d, nil
}

// DownloadYear fetches all twelve months for each fleet. Files already on
// disk are skipped. Every file is attempted; failures are joined.
func (d *Downloader) DownloadYear(ctx context.Context, fleets []models.Fleet, year int) ([]DownloadResult, error) {
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	var (
		mu      sync.Mutex
		results []DownloadResult
		errs    []error
	)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for _, fleet := range fleets {
		for month := 1; month <= 12; month++ {
			g.Go(func() error {
				res, err := d.Download(ctx, fleet, year, month)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return nil
				}
				results = append(results, res)
				return nil
			})
		}
	}
	g.Wait()

	slices.SortFunc(results, func(a, b DownloadResult) int {
		if a.Fleet != b.Fleet {
			return int(a.Fleet) - int(b.Fleet)
		}
		return a.Month - b.Month
	})
	return results, errors.Join(errs...)
}

// Download fetches a single monthly file unless a file of that name already
// exists locally, whatever its size. Fetches land under a temporary name, so
// an existing file was put there on purpose.
func (d *Downloader) Download(ctx context.Context, fleet models.Fleet, year, month int) (DownloadResult, error) {
	name := fleet.FileName(year, month)
	dest := filepath.Join(d.dataDir, name)
	src := d.fileURL(name)
	res := DownloadResult{Fleet: fleet, Month: month, URL: src, Path: dest}

	if info, err := os.Stat(dest); err == nil {
		res.Skipped = true
		res.Bytes = info.Size()
		metrics.DownloadsTotal.WithLabelValues(fleet.String(), "skipped").Inc()
		d.logger.Debug("file exists, skipping", "path", dest)
		return res, nil
	}

	start := time.Now()
	operation := func() error {
		var err error
		if d.base.Scheme == "ftp" {
			res.Bytes, err = d.fetchFTP(ctx, name, dest)
		} else {
			res.Bytes, err = d.fetchHTTP(ctx, src, dest)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.DownloadRetries.WithLabelValues(fleet.String()).Inc()
		d.logger.Warn("download attempt failed, retrying",
			logging.FieldFleet, fleet.String(), "url", src, "wait", wait, "error", err)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), uint64(d.maxRetries)), ctx)
	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		metrics.DownloadsTotal.WithLabelValues(fleet.String(), "failed").Inc()
		return res, &DownloadError{URL: src, Path: dest, Err: err}
	}

	metrics.DownloadsTotal.WithLabelValues(fleet.String(), "fetched").Inc()
	metrics.DownloadBytes.WithLabelValues(fleet.String()).Add(float64(res.Bytes))
	d.logger.Info("downloaded",
		logging.FieldFleet, fleet.String(),
		"path", dest,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"elapsed", time.Since(start))
	return res, nil
}

func (d *Downloader) fileURL(name string) string {
	u := *d.base
	u.Path = path.Join(u.Path, name)
	return u.String()
}

func (d *Downloader) fetchHTTP(ctx context.Context, src, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return 0, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, backoff.Permanent(fmt.Errorf("fetch: status %d", resp.StatusCode))
	}

	return writeAtomic(dest, resp.Body)
}

func (d *Downloader) fetchFTP(ctx context.Context, name, dest string) (int64, error) {
	host := d.base.Host
	if d.base.Port() == "" {
		host = net.JoinHostPort(d.base.Hostname(), "21")
	}
	timeout := d.timeout
	if timeout <= 0 {
		timeout = httputil.DefaultTimeout
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	user, pass := "anonymous", "anonymous"
	if d.base.User != nil {
		user = d.base.User.Username()
		if p, ok := d.base.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("ftp login: %w", err))
	}

	resp, err := conn.Retr(path.Join(d.base.Path, name))
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return 0, backoff.Permanent(fmt.Errorf("ftp retr: %w", err))
		}
		return 0, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	return writeAtomic(dest, resp)
}

// writeAtomic streams r into a temp file beside dest and renames it into
// place, so an interrupted transfer never leaves a file that looks complete.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("rename %s: %w", dest, err))
	}
	return n, nil
}
