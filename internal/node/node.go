package node

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/lithammer/shortuuid"
	"github.com/mikoim/go-loadavg"
	"github.com/serverledge-faas/smartlambda/internal/config"
)

var OutOfResourcesErr = errors.New("not enough resources for function execution")

type NodeID struct {
	Area string
	Key  string
}

var LocalNode NodeID

func (n NodeID) String() string {
	return fmt.Sprintf("(%s)%s", n.Area, n.Key)
}

func NewIdentifier(area string) NodeID {
	id := shortuuid.New() + strconv.FormatInt(time.Now().UnixNano(), 10)
	return NodeID{Area: area, Key: id}
}

// Resources accounts for the memory reserved by running workers.
type Resources struct {
	sync.RWMutex
	totalMemory int64
	totalCPUs   float64
	usedMemory  int64 // amount of memory reserved by workers currently running
	running     int
}

func (n *Resources) Init() {
	availableCores := runtime.NumCPU()
	n.Lock()
	defer n.Unlock()
	n.totalCPUs = config.GetFloat(config.POOL_CPUS, float64(availableCores))
	n.totalMemory = int64(config.GetInt(config.POOL_MEMORY_MB, 1024))
}

func (n *Resources) String() string {
	n.RLock()
	defer n.RUnlock()
	return fmt.Sprintf("[CPUs: %f - Mem: %d/%d - Running: %d]", n.totalCPUs, n.usedMemory, n.totalMemory, n.running)
}

// Acquire reserves memory for a worker, failing with OutOfResourcesErr if
// the node cannot host it.
func (n *Resources) Acquire(memoryMB int64) error {
	n.Lock()
	defer n.Unlock()
	if n.usedMemory+memoryMB > n.totalMemory {
		return OutOfResourcesErr
	}
	n.usedMemory += memoryMB
	n.running++
	return nil
}

func (n *Resources) Release(memoryMB int64) {
	n.Lock()
	defer n.Unlock()
	n.usedMemory -= memoryMB
	n.running--
}

func (n *Resources) FreeMemory() int64 {
	n.RLock()
	defer n.RUnlock()
	return n.totalMemory - n.usedMemory
}

func (n *Resources) UsedMemory() int64 {
	n.RLock()
	defer n.RUnlock()
	return n.usedMemory
}

func (n *Resources) TotalMemory() int64 {
	n.RLock()
	defer n.RUnlock()
	return n.totalMemory
}

func (n *Resources) TotalCPUs() float64 {
	n.RLock()
	defer n.RUnlock()
	return n.totalCPUs
}

func (n *Resources) Running() int {
	n.RLock()
	defer n.RUnlock()
	return n.running
}

// LoadAvg returns the 1, 5 and 15 minutes load averages, or -1 values where
// they are not available.
func LoadAvg() []float64 {
	values := []float64{-1.0, -1.0, -1.0}
	if avg, err := loadavg.Parse(); err == nil {
		values = []float64{avg.LoadAverage1, avg.LoadAverage5, avg.LoadAverage10}
	}
	return values
}
