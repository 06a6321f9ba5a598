package helper

import (
	"context"
	"errors"
	"sync"

	"github.com/project-hadron/discovery-engines/eventbook"
)

// SpyConnector is an in-memory eventbook.Connector that records its calls and can be told to fail.
type SpyConnector struct {
	mu            sync.Mutex
	payload       []byte
	stored        bool
	persisted     [][]byte
	persistCalls  int
	loadCalls     int
	persistErr    error
	persistErrFor int
	loadErr       error
	stallFor      int
}

// NewSpyConnector creates an empty SpyConnector.
func NewSpyConnector() *SpyConnector {
	return &SpyConnector{}
}

// Persist implements eventbook.Connector.
func (c *SpyConnector) Persist(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	c.persistCalls++

	if c.stallFor > 0 {
		c.stallFor--
		c.mu.Unlock()
		<-ctx.Done()

		return ctx.Err()
	}

	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if c.persistErr != nil && c.persistErrFor != 0 {
		if c.persistErrFor > 0 {
			c.persistErrFor--
		}

		return c.persistErr
	}

	c.payload = append([]byte(nil), payload...)
	c.stored = true
	c.persisted = append(c.persisted, c.payload)

	return nil
}

// Load implements eventbook.Connector.
func (c *SpyConnector) Load(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if c.loadErr != nil {
		return nil, c.loadErr
	}

	if !c.stored {
		return nil, errors.Join(eventbook.ErrNotFound, errors.New("spy connector is empty"))
	}

	return append([]byte(nil), c.payload...), nil
}

// Exists implements eventbook.Connector.
func (c *SpyConnector) Exists(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stored, nil
}

// FailPersist makes the next n Persist calls fail with err, a negative n fails all of them.
func (c *SpyConnector) FailPersist(err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.persistErr = err
	c.persistErrFor = n
}

// StallPersist makes the next n Persist calls block until their context is done.
func (c *SpyConnector) StallPersist(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stallFor = n
}

// FailLoad makes every Load call fail with err until it is called with nil.
func (c *SpyConnector) FailLoad(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadErr = err
}

// Seed stores payload without counting it as a Persist call.
func (c *SpyConnector) Seed(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = append([]byte(nil), payload...)
	c.stored = true
}

// Payload returns the last persisted payload.
func (c *SpyConnector) Payload() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.payload...)
}

// PersistCount returns the number of Persist calls, failed ones included.
func (c *SpyConnector) PersistCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.persistCalls
}

// SuccessfulPersists returns a copy of every successfully persisted payload.
func (c *SpyConnector) SuccessfulPersists() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]byte(nil), c.persisted...)
}

// LoadCount returns the number of Load calls.
func (c *SpyConnector) LoadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.loadCalls
}
