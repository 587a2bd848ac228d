package midjourney

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL  = "https://www.midjourney.com"
	DefaultAlphaURL = "https://alpha.midjourney.com"

	defaultMaxRetries = 2
	retryBackoff      = 250 * time.Millisecond

	// jobStatusBatch is how many ids go into one job-status request.
	jobStatusBatch = 50
	// jobStatusParallel bounds concurrent job-status requests.
	jobStatusParallel = 4
)

// Client calls the Midjourney REST endpoints with a session cookie.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	cookie     string
	cfg        clientConfig
	httpClient *http.Client
}

// NewClient creates a Client authenticated by cookie, the raw value of the
// browser's Cookie header.
func NewClient(cookie string, opts ...ClientOption) *Client {
	cfg := clientConfig{
		baseURL:    DefaultBaseURL,
		alphaURL:   DefaultAlphaURL,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.baseURL = strings.TrimRight(cfg.baseURL, "/")
	cfg.alphaURL = strings.TrimRight(cfg.alphaURL, "/")

	base := http.DefaultTransport
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.httpClient != nil {
		clone := *cfg.httpClient
		httpClient = &clone
		if clone.Transport != nil {
			base = clone.Transport
		}
	}
	httpClient.Transport = &retryTransport{
		base:       base,
		maxRetries: cfg.maxRetries,
		backoff:    retryBackoff,
		logger:     cfg.logger,
	}

	return &Client{
		cookie:     cookie,
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// UserJobsPage is one page of a user's jobs. Cursor is opaque; pass it back
// unchanged to fetch the next page.
type UserJobsPage struct {
	Jobs       []Job
	Cursor     string
	Checkpoint string
}

// SubmittedJob is a job accepted by SubmitJob.
type SubmittedJob struct {
	JobID              string        `json:"job_id"`
	IsQueued           bool          `json:"is_queued"`
	Meta               SubmittedMeta `json:"meta"`
	OptimisticJobIndex int           `json:"optimisticJobIndex"`
}

// SubmittedMeta describes the submitted job's output.
type SubmittedMeta struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	BatchSize   int    `json:"batch_size"`
	FullCommand string `json:"full_command"`
}

// SubmitFailure is a rejected entry of a submission.
type SubmitFailure struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (f SubmitFailure) String() string {
	switch {
	case f.Type != "" && f.Message != "":
		return f.Type + ": " + f.Message
	case f.Message != "":
		return f.Message
	default:
		return f.Type
	}
}

type recentJobsResponse struct {
	Type string            `json:"type"`
	Jobs []json.RawMessage `json:"jobs"`
}

type userJobsResponse struct {
	Checkpoint *string           `json:"checkpoint"`
	Cursor     string            `json:"cursor"`
	Data       []json.RawMessage `json:"data"`
}

type likedJobsResponse struct {
	Jobs []json.RawMessage `json:"jobs"`
}

type jobStatusRequest struct {
	JobIDs []string `json:"jobIds"`
}

type submitJobsRequest struct {
	F         submitFlags    `json:"f"`
	ChannelID string         `json:"channelId"`
	RoomID    *string        `json:"roomId"`
	Metadata  submitMetadata `json:"metadata"`
	T         string         `json:"t"`
	Prompt    string         `json:"prompt"`
}

type submitFlags struct {
	Mode    string `json:"mode"`
	Private bool   `json:"private"`
}

type submitMetadata struct {
	IsMobile        bool `json:"isMobile"`
	ImagePrompts    int  `json:"imagePrompts"`
	ImageReferences int  `json:"imageReferences"`
	CharReferences  int  `json:"charReferences"`
}

type submitJobsResponse struct {
	Success []SubmittedJob  `json:"success"`
	Failure []SubmitFailure `json:"failure"`
}

// ResolveUserInfo identifies the user the cookie belongs to.
func (c *Client) ResolveUserInfo(ctx context.Context) (UserInfo, error) {
	html, err := c.getPage(ctx, c.cfg.baseURL+"/explore")
	if err != nil {
		return UserInfo{}, err
	}
	return parseUserInfo(html)
}

// ResolveAlphaSession fetches the alpha site and returns an AlphaSession if
// the user has alpha access, or ErrAuthUnauthorized if not.
func (c *Client) ResolveAlphaSession(ctx context.Context) (AlphaSession, error) {
	html, err := c.getPage(ctx, c.cfg.alphaURL+"/explore")
	if err != nil {
		return AlphaSession{}, err
	}
	return parseAlphaSession(html, c.cookie)
}

// ListRecentJobs returns a page of the public recent-jobs feed.
func (c *Client) ListRecentJobs(ctx context.Context, page, pageSize int) ([]Job, error) {
	q := url.Values{}
	q.Set("amount", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Set("feed", "top_recent_jobs")
	q.Set("_ql", "explore")

	var resp recentJobsResponse
	if err := c.getJSON(ctx, c.cfg.baseURL+"/api/app/recent-jobs", q, &resp); err != nil {
		return nil, err
	}
	return decodeJobs("jobs", resp.Jobs)
}

// ListUserJobs returns a page of userID's jobs. Pass an empty cursor for the
// first page and the returned Cursor for the following ones.
func (c *Client) ListUserJobs(ctx context.Context, userID, cursor string, pageSize int) (UserJobsPage, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("page_size", strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var resp userJobsResponse
	if err := c.getJSON(ctx, c.cfg.baseURL+"/api/pg/thomas-jobs", q, &resp); err != nil {
		return UserJobsPage{}, err
	}
	jobs, err := decodeJobs("data", resp.Data)
	if err != nil {
		return UserJobsPage{}, err
	}

	page := UserJobsPage{Jobs: jobs, Cursor: resp.Cursor}
	if resp.Checkpoint != nil {
		page.Checkpoint = *resp.Checkpoint
	}
	return page, nil
}

// JobsStatus looks up the current state of jobIDs. Large lookups are split
// into batches fetched concurrently, so the result order is unspecified.
func (c *Client) JobsStatus(ctx context.Context, jobIDs []string) ([]Job, error) {
	if len(jobIDs) == 0 {
		return []Job{}, nil
	}

	var (
		mu   sync.Mutex
		jobs = make([]Job, 0, len(jobIDs))
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobStatusParallel)
	for start := 0; start < len(jobIDs); start += jobStatusBatch {
		batch := jobIDs[start:min(start+jobStatusBatch, len(jobIDs))]
		g.Go(func() error {
			found, err := c.jobsStatusBatch(ctx, batch)
			if err != nil {
				return err
			}
			mu.Lock()
			jobs = append(jobs, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) jobsStatusBatch(ctx context.Context, jobIDs []string) ([]Job, error) {
	req, err := newRequest(ctx, http.MethodPost, c.cfg.baseURL+"/api/app/job-status", c.cookie,
		jobStatusRequest{JobIDs: jobIDs})
	if err != nil {
		return nil, err
	}
	var raw []json.RawMessage
	if err := c.doJSON(req, &raw); err != nil {
		return nil, err
	}
	return decodeJobs("", raw)
}

// LikedJobs returns a page of jobs the user has liked.
func (c *Client) LikedJobs(ctx context.Context, page int) ([]Job, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("_ql", "explore")

	var resp likedJobsResponse
	if err := c.getJSON(ctx, c.cfg.baseURL+"/api/pg/user-likes", q, &resp); err != nil {
		return nil, err
	}
	return decodeJobs("jobs", resp.Jobs)
}

// SetLike likes or unlikes jobID.
func (c *Client) SetLike(ctx context.Context, jobID string, liked bool) error {
	if jobID == "" {
		return ErrInvalidJobID
	}

	endpoint := c.cfg.baseURL + "/api/jobs/" + url.PathEscape(jobID) + "/like?value=" + strconv.FormatBool(liked)
	req, err := newRequest(ctx, http.MethodPost, endpoint, c.cookie, nil)
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

// SubmitJob submits prompt as a new imagine job and returns the first job
// the server queued. Submissions are never retried.
func (c *Client) SubmitJob(ctx context.Context, alpha AlphaSession, prompt string) (SubmittedJob, error) {
	body := submitJobsRequest{
		F:         submitFlags{Mode: "fast"},
		ChannelID: "singleplayer_" + alpha.userID,
		T:         "imagine",
		Prompt:    prompt,
	}
	req, err := newRequest(withoutRetry(ctx), http.MethodPost, c.cfg.alphaURL+"/api/app/submit-jobs", alpha.cookie, body)
	if err != nil {
		return SubmittedJob{}, err
	}

	var resp submitJobsResponse
	if err := c.doJSON(req, &resp); err != nil {
		return SubmittedJob{}, err
	}
	if len(resp.Success) == 0 {
		return SubmittedJob{}, &SubmissionError{Failures: resp.Failure}
	}

	if c.cfg.logger != nil {
		c.cfg.logger.Info("job submitted",
			slog.String("job_id", resp.Success[0].JobID),
			slog.Bool("queued", resp.Success[0].IsQueued),
		)
	}
	return resp.Success[0], nil
}

func (c *Client) getPage(ctx context.Context, endpoint string) (string, error) {
	req, err := newRequest(ctx, http.MethodGet, endpoint, c.cookie, nil)
	if err != nil {
		return "", err
	}
	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, q url.Values, out any) error {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	req, err := newRequest(ctx, http.MethodGet, endpoint, c.cookie, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, out)
}
