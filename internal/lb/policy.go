package lb

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/serverledge-faas/smartlambda/internal/registration"
)

var ErrNoTarget = errors.New("no available target")

const (
	CONST_HASH_POLICY = "const-hash"
	RANDOM_POLICY     = "random"
)

// A Policy picks the node serving the invocations of a function.
type Policy interface {
	Route(funcName string) (registration.NodeRegistration, error)
	// Update replaces the set of candidate nodes.
	Update(nodes []registration.NodeRegistration)
}

func NewPolicy(name string) (Policy, error) {
	switch name {
	case CONST_HASH_POLICY:
		return newConstHashBalancer(), nil
	case RANDOM_POLICY:
		return &randomPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown policy: %s", name)
	}
}

type randomPolicy struct {
	mu      sync.RWMutex
	targets []registration.NodeRegistration
}

func (r *randomPolicy) Route(string) (registration.NodeRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.targets) == 0 {
		return registration.NodeRegistration{}, ErrNoTarget
	}
	return r.targets[rand.Intn(len(r.targets))], nil
}

func (r *randomPolicy) Update(nodes []registration.NodeRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append([]registration.NodeRegistration(nil), nodes...)
}
