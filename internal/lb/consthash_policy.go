package lb

import (
	"crypto/sha256"
	"sort"
	"sync"

	"github.com/serverledge-faas/smartlambda/internal/registration"
)

// constHashBalancer sends every invocation of a function to the same node
// while the pool is stable. A node leaving only moves its own functions.
type constHashBalancer struct {
	ring  *Ring
	mutex sync.RWMutex
}

type ringElem struct {
	key  uint64
	node registration.NodeRegistration
}

// Ring is a structure that maintains nodes in sorted order
type Ring struct {
	nodes []ringElem
}

func hash(key string) uint64 {
	sum := sha256.Sum256([]byte(key))
	var hashValue uint64
	for _, b := range sum[:8] { // first 8 bytes as a uint64
		hashValue = hashValue<<8 + uint64(b)
	}
	return hashValue
}

func (r *Ring) addNode(node registration.NodeRegistration) {
	r.nodes = append(r.nodes, ringElem{key: hash(node.APIUrl()), node: node})
	sort.Slice(r.nodes, func(i, j int) bool {
		return r.nodes[i].key < r.nodes[j].key
	})
}

func (r *Ring) removeNode(nodeKey string) {
	for i, n := range r.nodes {
		if n.node.Key == nodeKey {
			r.nodes = append(r.nodes[:i], r.nodes[i+1:]...)
			return
		}
	}
}

// successor returns the first node clockwise from key.
func (r *Ring) successor(key uint64) (registration.NodeRegistration, bool) {
	if len(r.nodes) == 0 {
		return registration.NodeRegistration{}, false
	}
	i := sort.Search(len(r.nodes), func(i int) bool {
		return r.nodes[i].key > key
	})
	if i >= len(r.nodes) {
		i = 0
	}
	return r.nodes[i].node, true
}

func newConstHashBalancer() *constHashBalancer {
	return &constHashBalancer{ring: &Ring{}}
}

func (c *constHashBalancer) Route(funcName string) (registration.NodeRegistration, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	target, ok := c.ring.successor(hash(funcName))
	if !ok {
		return registration.NodeRegistration{}, ErrNoTarget
	}
	return target, nil
}

func (c *constHashBalancer) Update(nodes []registration.NodeRegistration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	current := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		current[n.Key] = true
	}
	for _, elem := range append([]ringElem(nil), c.ring.nodes...) {
		if !current[elem.node.Key] {
			c.ring.removeNode(elem.node.Key)
		}
	}

	known := make(map[string]bool, len(c.ring.nodes))
	for _, elem := range c.ring.nodes {
		known[elem.node.Key] = true
	}
	for _, n := range nodes {
		if !known[n.Key] {
			c.ring.addNode(n)
		}
	}
}
