// Package api is the HTTP surface: upload and download grants, X job
// submission, per-site job listings, job deletion and media cleanup.
//
// Endpoints:
//
//	POST   /presign          upload (op=put) or download (op=get) grant
//	POST   /x/jobs           register an X post and start its workflow
//	GET    /jobs?site_url=   job summaries for a site
//	DELETE /jobs/{job_id}    delete a job record
//	DELETE /media            delete an uploaded object (master token only)
//	GET    /health           liveness
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-publisher/internal/gateway"
	"github.com/fpang/media-publisher/internal/lifecycle"
	"github.com/fpang/media-publisher/internal/store"
)

// Request headers.
const (
	HeaderAPIToken      = "X-API-Token"
	HeaderSiteURL       = "X-Site-Url"
	HeaderWPID          = "X-Wp-Id"
	HeaderFBToken       = "X-FB-Token"
	HeaderFBAccessToken = "X-FB-Access-Token"
	HeaderWebhookURL    = "X-Webhook-Url"
	HeaderXToken        = "X-X-Token"
)

// Grants issues upload/download grants and registers X jobs.
type Grants interface {
	IssuePut(ctx context.Context, req gateway.PutRequest) (*gateway.PutGrant, error)
	IssueGet(ctx context.Context, req gateway.GetRequest) (*gateway.GetGrant, error)
	SubmitX(ctx context.Context, req gateway.XRequest) (*gateway.Submission, error)
}

// Lifecycle serves listings, deletion and cleanup.
type Lifecycle interface {
	IsMaster(token string) bool
	ListBySite(ctx context.Context, siteURL string) ([]lifecycle.Summary, error)
	DeleteJob(ctx context.Context, jobID string, creds lifecycle.Credentials) (*lifecycle.DeleteResult, error)
	CleanupPath(ctx context.Context, mediaPath string) (*lifecycle.Report, error)
	CleanupJob(ctx context.Context, jobID string, extra ...lifecycle.ObjectRef) (*lifecycle.Report, error)
}

// Server routes API requests.
type Server struct {
	grants Grants
	jobs   Lifecycle
	mux    *http.ServeMux
}

// NewServer wires the routes.
func NewServer(grants Grants, jobs Lifecycle) *Server {
	s := &Server{grants: grants, jobs: jobs, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /presign", s.handlePresign)
	s.mux.HandleFunc("POST /x/jobs", s.handleSubmitX)
	s.mux.HandleFunc("GET /jobs", s.handleListJobs)
	s.mux.HandleFunc("DELETE /jobs/{job_id}", s.handleDeleteJob)
	s.mux.HandleFunc("DELETE /media", s.handleDeleteMedia)
	return s
}

// Handler returns the routes wrapped with CORS and metrics middleware.
func (s *Server) Handler() http.Handler {
	return withMetrics(withCORS(s.mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "media-publisher",
	})
}

// presignBody is the union of put and get grant requests.
type presignBody struct {
	Op string `json:"op"`
	gateway.PutRequest
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	var body presignBody
	if err := decodeBody(r, &body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	switch strings.ToLower(strings.TrimSpace(body.Op)) {
	case "get":
		grant, err := s.grants.IssueGet(r.Context(), gateway.GetRequest{
			Bucket:  body.Bucket,
			Key:     body.Key,
			Expires: body.Expires,
		})
		if err != nil {
			s.fail(w, "presign get", err)
			return
		}
		respondJSON(w, http.StatusOK, grant)
	case "", "put":
		req := body.PutRequest
		req.Token = firstHeader(r, HeaderFBToken, HeaderFBAccessToken)
		req.CallbackURL = strings.TrimSpace(r.Header.Get(HeaderWebhookURL))
		if site := strings.TrimSpace(r.Header.Get(HeaderSiteURL)); site != "" {
			req.SiteURL = site
		}
		grant, err := s.grants.IssuePut(r.Context(), req)
		if err != nil {
			s.fail(w, "presign put", err)
			return
		}
		respondJSON(w, http.StatusOK, grant)
	default:
		httpError(w, http.StatusBadRequest, "op must be get or put")
	}
}

func (s *Server) handleSubmitX(w http.ResponseWriter, r *http.Request) {
	var req gateway.XRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Token = strings.TrimSpace(r.Header.Get(HeaderXToken))
	if site := strings.TrimSpace(r.Header.Get(HeaderSiteURL)); site != "" {
		req.SiteURL = site
	}
	sub, err := s.grants.SubmitX(r.Context(), req)
	if err != nil {
		s.fail(w, "submit x", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "job_id": sub.JobID, "status": sub.Status})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	site := strings.TrimSpace(r.URL.Query().Get("site_url"))
	if site == "" {
		httpError(w, http.StatusBadRequest, "site_url required")
		return
	}
	summaries, err := s.jobs.ListBySite(r.Context(), site)
	if err != nil {
		s.fail(w, "list jobs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"site_url": site, "jobs": summaries})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("job_id"))
	if jobID == "" {
		httpError(w, http.StatusBadRequest, "job_id required")
		return
	}
	q := r.URL.Query()
	creds := lifecycle.Credentials{
		APIToken: r.Header.Get(HeaderAPIToken),
		SiteURL:  firstNonEmpty(r.Header.Get(HeaderSiteURL), q.Get("site_url")),
		WPID:     firstNonEmpty(r.Header.Get(HeaderWPID), q.Get("wp_id")),
	}
	res, err := s.jobs.DeleteJob(r.Context(), jobID, creds)
	if err != nil {
		s.fail(w, "delete job", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"job_id":         res.JobID,
		"deleted":        res.Deleted,
		"already_absent": res.AlreadyAbsent,
	})
}

func (s *Server) handleDeleteMedia(w http.ResponseWriter, r *http.Request) {
	if !s.jobs.IsMaster(r.Header.Get(HeaderAPIToken)) {
		httpError(w, http.StatusForbidden, "forbidden")
		return
	}
	q := r.URL.Query()
	var (
		report *lifecycle.Report
		err    error
	)
	switch {
	case q.Get("media_path") != "":
		report, err = s.jobs.CleanupPath(r.Context(), q.Get("media_path"))
	case q.Get("job_id") != "":
		report, err = s.jobs.CleanupJob(r.Context(), q.Get("job_id"))
	default:
		httpError(w, http.StatusBadRequest, "media_path or job_id required")
		return
	}
	if err != nil {
		s.fail(w, "cleanup", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// fail maps domain errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var ve *gateway.ValidationError
	switch {
	case errors.As(err, &ve):
		httpError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, gateway.ErrMissingToken):
		httpError(w, http.StatusUnauthorized, "missing platform token")
	case errors.Is(err, gateway.ErrBucketNotAllowed):
		httpError(w, http.StatusForbidden, "bucket not allowed")
	case errors.Is(err, lifecycle.ErrForbidden):
		httpError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		httpError(w, http.StatusConflict, "already exists")
	default:
		log.Error().Err(err).Str("op", op).Msg("Request failed")
		httpError(w, http.StatusInternalServerError, op+" failed")
	}
}

func firstHeader(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(r.Header.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
