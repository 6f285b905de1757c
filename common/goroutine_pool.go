package common

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

const DefaultMaxWorkers = 16

type PoolConfig struct {
	MaxWorkers int
}

// NewPool creates the worker pool used for per-source path computation
func NewPool(config PoolConfig) (*ants.Pool, error) {
	size := config.MaxWorkers
	if size <= 0 {
		size = DefaultMaxWorkers
	}

	pool, err := ants.NewPool(size)
	if err != nil {
		log.Errorf("NewPool, failed to create ants pool, size: %d, err: %v", size, err)
		return nil, fmt.Errorf("create ants pool: %w", err)
	}

	log.Debugf("NewPool, size: %d", size)
	return pool, nil
}
