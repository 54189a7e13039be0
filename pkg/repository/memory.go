package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// MemoryRepository keeps orders in process memory
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]*models.Order),
	}
}

func (r *MemoryRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	stored := *order
	r.orders[order.ID] = &stored
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id string) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	out := *order
	return &out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status models.OrderStatus, patch models.OrderPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	updated := *order
	applyPatch(&updated, status, patch)
	updated.UpdatedAt = time.Now()
	r.orders[id] = &updated
	return nil
}

func (r *MemoryRepository) List(_ context.Context, limit, offset int) ([]models.Order, error) {
	limit, offset = normalizePage(limit, offset)

	r.mu.RLock()
	all := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		all = append(all, *o)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []models.Order{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *MemoryRepository) CountByStatus(_ context.Context) (map[models.OrderStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.OrderStatus]int64)
	for _, o := range r.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (r *MemoryRepository) Ping(_ context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
