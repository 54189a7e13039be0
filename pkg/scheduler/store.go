package scheduler

import (
	"sort"
	"sync"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// JobStore persists live jobs so they survive a restart.
// A job is saved on admission and after every failed attempt, and deleted on its terminal outcome.
type JobStore interface {
	Save(job models.Job) error
	Delete(orderID string) error
	// Load returns every stored job, oldest enqueue first
	Load() ([]models.Job, error)
	Close() error
}

// MemoryStore is a JobStore that lives only as long as the process
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

var _ JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (m *MemoryStore) Save(job models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.OrderID] = job
	return nil
}

func (m *MemoryStore) Delete(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, orderID)
	return nil
}

func (m *MemoryStore) Load() ([]models.Job, error) {
	m.mu.Lock()
	jobs := make([]models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	sortJobs(jobs)
	return jobs, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func sortJobs(jobs []models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].EnqueuedAt.Equal(jobs[j].EnqueuedAt) {
			return jobs[i].OrderID < jobs[j].OrderID
		}
		return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
	})
}
