package workshop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mod-watchdog/internal/retry"
)

const (
	KeyedURL   = "https://api.steampowered.com/IPublishedFileService/GetDetails/v1/"
	KeylessURL = "https://api.steampowered.com/ISteamRemoteStorage/GetPublishedFileDetails/v1/"

	DefaultBatchSize = 50
	maxBatchSize     = 100

	// resultOK is the per-item success code used by the catalog.
	resultOK = 1
)

type Options struct {
	// APIKey enables the keyed endpoint when UseKeyed is also set.
	APIKey   string
	UseKeyed bool

	BatchSize  int
	Timeout    time.Duration
	BatchPause time.Duration
	Retry      retry.Policy

	// KeyedURL and KeylessURL override the endpoints (tests).
	KeyedURL   string
	KeylessURL string
}

type Fetcher struct {
	opts   Options
	client *http.Client
	sleep  retry.Sleeper
	log    *slog.Logger
}

// NewFetcher returns a Fetcher. A nil client gets a default one with
// opts.Timeout; a nil sleep waits in real time.
func NewFetcher(opts Options, client *http.Client, sleep retry.Sleeper, log *slog.Logger) *Fetcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchSize > maxBatchSize {
		opts.BatchSize = maxBatchSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.KeyedURL == "" {
		opts.KeyedURL = KeyedURL
	}
	if opts.KeylessURL == "" {
		opts.KeylessURL = KeylessURL
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	if sleep == nil {
		sleep = retry.Sleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{opts: opts, client: client, sleep: sleep, log: log}
}

func (f *Fetcher) keyed() bool { return f.opts.UseKeyed && f.opts.APIKey != "" }

// Fetch resolves ids in batches. Batches that exhaust their retries are
// logged and skipped; only context cancellation fails the whole fetch.
func (f *Fetcher) Fetch(ctx context.Context, ids []string) (Result, error) {
	res := Result{Records: map[string]Record{}}
	if len(ids) == 0 {
		return res, nil
	}
	if f.keyed() {
		f.log.Info("using keyed catalog endpoint", "url", f.opts.KeyedURL)
	} else {
		f.log.Info("using keyless catalog endpoint", "url", f.opts.KeylessURL)
	}

	batches := partition(ids, f.opts.BatchSize)
	for i, batch := range batches {
		recs, err := f.fetchBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			f.log.Error("dropping catalog batch", "batch", i+1, "batches", len(batches), "ids", len(batch), "err", err)
		} else {
			for _, id := range batch {
				rec, ok := recs[id]
				if !ok {
					continue
				}
				if _, dup := res.Records[id]; !dup {
					res.Order = append(res.Order, id)
				}
				res.Records[id] = rec
			}
		}
		if i < len(batches)-1 && f.opts.BatchPause > 0 {
			if err := f.sleep(ctx, f.opts.BatchPause); err != nil {
				return res, err
			}
		}
	}
	f.log.Info("catalog fetch complete", "requested", len(ids), "resolved", res.Len())
	return res, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, batch []string) (map[string]Record, error) {
	reqURL, err := f.batchURL(batch)
	if err != nil {
		return nil, err
	}
	var out map[string]Record
	err = retry.Do(ctx, f.opts.Retry, f.sleep, f.log, func(ctx context.Context, attempt int) retry.Outcome {
		recs, o := f.attempt(ctx, reqURL)
		if o.Kind == retry.Success {
			out = recs
		}
		return o
	})
	return out, err
}

func (f *Fetcher) attempt(ctx context.Context, reqURL string) (map[string]Record, retry.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.Fail(fmt.Errorf("workshop: new request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, retry.Retry(fmt.Errorf("workshop: request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, retry.RateLimit(errors.New("workshop: rate limited (429)"))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, retry.Retry(fmt.Errorf("workshop: status %d", resp.StatusCode))
	}

	var body detailsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, retry.Retry(fmt.Errorf("workshop: decode: %w", err))
	}

	recs := make(map[string]Record, len(body.Response.Details))
	for _, d := range body.Response.Details {
		if d.PublishedFileID == "" {
			continue
		}
		if d.Result != 0 && d.Result != resultOK {
			f.log.Warn("catalog could not resolve mod", "mod_id", d.PublishedFileID, "result", d.Result)
			continue
		}
		recs[d.PublishedFileID] = d.record()
	}
	return recs, retry.OK()
}

func (f *Fetcher) batchURL(batch []string) (string, error) {
	base := f.opts.KeylessURL
	if f.keyed() {
		base = f.opts.KeyedURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("workshop: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("itemcount", strconv.Itoa(len(batch)))
	q.Set("includechildren", "true")
	for i, id := range batch {
		q.Set(fmt.Sprintf("publishedfileids[%d]", i), id)
	}
	if f.keyed() {
		q.Set("key", f.opts.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func partition(ids []string, size int) [][]string {
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
