// Package snowflake mints the 64-bit ids used as primary keys for nodes,
// threads, posts and users.
//
// ID LAYOUT (bwmarrin/snowflake defaults):
//
//	| 1 bit unused | 41 bits ms since Epoch | 10 bits node | 12 bits sequence |
//
// Ids from one Generator are strictly increasing. Ids from different
// generators are unique as long as every process runs with its own node id,
// and sort roughly by creation time because the timestamp sits in the high bits.
package snowflake

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/sakif/threadboard/internal/apperror"
)

// Epoch is 2023-01-01T00:00:00Z in unix milliseconds. Every deployment node
// must use the same value or ids stop being comparable.
const Epoch int64 = 1672531200000

var setEpoch sync.Once

// Generator hands out ids for one node. Safe for concurrent use.
type Generator struct {
	node   *snowflake.Node
	nodeID int64
}

// New returns a Generator for nodeID. An out-of-range node id is a
// configuration error.
func New(nodeID int64) (*Generator, error) {
	// The library reads its package-level Epoch when a node is built.
	// It is only ever assigned here, and always to the same constant.
	setEpoch.Do(func() { snowflake.Epoch = Epoch })

	if nodeID < 0 || nodeID > 1023 {
		return nil, apperror.Configuration("NODE_ID", "must be between 0 and 1023, got "+strconv.FormatInt(nodeID, 10))
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake: creating node %d: %w", nodeID, err)
	}

	return &Generator{node: node, nodeID: nodeID}, nil
}

// Next returns a fresh id.
func (g *Generator) Next() int64 {
	return g.node.Generate().Int64()
}

// NodeID returns the node id this generator was built with.
func (g *Generator) NodeID() int64 {
	return g.nodeID
}

// Time extracts the creation time embedded in id.
func Time(id int64) time.Time {
	return time.UnixMilli(snowflake.ID(id).Time())
}

// Node extracts the node id embedded in id.
func Node(id int64) int64 {
	return snowflake.ID(id).Node()
}
