// Package storetest provides an in-memory store.Ledger with the same
// conditional semantics as the DynamoDB implementation.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fpang/media-publisher/internal/jobs"
	"github.com/fpang/media-publisher/internal/store"
)

// Ledger is a mutex-guarded map of jobs. Records are copied on the way in
// and out so callers never share memory with the store.
type Ledger struct {
	mu   sync.Mutex
	jobs map[string]*store.Job
	// Writes counts successful SetStatus calls per job.
	Writes map[string]int
	// Err, when set, is returned by every method.
	Err error
}

var _ store.Ledger = (*Ledger)(nil)

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{jobs: make(map[string]*store.Job), Writes: make(map[string]int)}
}

func clone(j *store.Job) *store.Job {
	c := *j
	c.MediaURLs = append([]string(nil), j.MediaURLs...)
	return &c
}

// Put stores job unconditionally, for test setup.
func (l *Ledger) Put(job *store.Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := clone(job)
	c.Terminal = jobs.IsTerminal(c.Status)
	l.jobs[job.ID] = c
}

func (l *Ledger) Create(_ context.Context, job *store.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	if _, ok := l.jobs[job.ID]; ok {
		return store.ErrConflict
	}
	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Terminal = jobs.IsTerminal(job.Status)
	l.jobs[job.ID] = clone(job)
	return nil
}

func (l *Ledger) Get(_ context.Context, jobID string) (*store.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	j, ok := l.jobs[jobID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(j), nil
}

func (l *Ledger) SetStatus(_ context.Context, jobID, status string, attrs map[string]any) error {
	if err := store.CheckAttrs(attrs); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	j, ok := l.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	if j.Terminal && j.Status != status {
		return fmt.Errorf("job_id=%s current %s: %w", jobID, j.Status, store.ErrTerminal)
	}

	// Merge attrs through the JSON shape so keys line up with the
	// record's attribute names.
	if len(attrs) > 0 {
		raw, err := json.Marshal(j)
		if err != nil {
			return err
		}
		m := map[string]any{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		for k, v := range attrs {
			m[k] = v
		}
		raw, err = json.Marshal(m)
		if err != nil {
			return err
		}
		merged := store.Job{}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("attrs do not fit job record: %w", err)
		}
		merged.TokenCipher = j.TokenCipher
		j = &merged
	}
	j.Status = status
	j.Terminal = jobs.IsTerminal(status)
	j.UpdatedAt = time.Now().Unix()
	l.jobs[jobID] = j
	l.Writes[jobID]++
	return nil
}

func (l *Ledger) QueryBySite(_ context.Context, siteURL string) ([]*store.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var out []*store.Job
	for _, j := range l.jobs {
		if j.SiteURL == siteURL {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].UpdatedAt != out[b].UpdatedAt {
			return out[a].UpdatedAt > out[b].UpdatedAt
		}
		return out[a].ID > out[b].ID
	})
	return out, nil
}

func (l *Ledger) Delete(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	_, ok := l.jobs[jobID]
	delete(l.jobs, jobID)
	return ok, nil
}
