package registration

import (
	"errors"
	"fmt"

	"github.com/serverledge-faas/smartlambda/internal/node"
)

var UnavailableClientErr = errors.New("etcd client unavailable")
var IdRegistrationErr = errors.New("etcd error: could not complete the registration")

// NodeRegistration is the record a node keeps in etcd while it is alive.
type NodeRegistration struct {
	node.NodeID
	IPAddress string
	APIPort   int
	// Scheduler is set when the node runs the claim loop.
	Scheduler bool
}

func (r *NodeRegistration) APIUrl() (url string) {
	return fmt.Sprintf("http://%s:%d", r.IPAddress, r.APIPort)
}
