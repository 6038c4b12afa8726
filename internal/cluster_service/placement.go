package cluster_service

import (
	"hash/fnv"
	"sort"
)

// Placement picks replica locations for chunks from the healthy members of
// a ClusterService using rendezvous hashing, so a chunk keeps its
// locations as long as membership does not change.
type Placement struct {
	cluster ClusterService
}

func NewPlacement(cluster ClusterService) *Placement {
	return &Placement{cluster: cluster}
}

// PlaceChunk returns up to replicas addresses for chunkID. Fewer are
// returned when fewer nodes are alive.
func (p *Placement) PlaceChunk(chunkID string, replicas int) ([]string, error) {
	nodes, err := p.cluster.GetHealthyNodes()
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, ErrNoHealthyNode
	}
	return rendezvous(chunkID, nodes, replicas), nil
}

// MaxReplicas reports how many distinct locations a chunk can get right now.
func (p *Placement) MaxReplicas() int {
	nodes, err := p.cluster.GetHealthyNodes()
	if err != nil {
		return 0
	}
	return len(nodes)
}

func rendezvous(key string, nodes []SafeNode, n int) []string {
	type scored struct {
		addr  string
		id    string
		score uint64
	}

	ranked := make([]scored, 0, len(nodes))
	for _, node := range nodes {
		h := fnv.New64a()
		_, _ = h.Write([]byte(node.ID))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(key))
		ranked = append(ranked, scored{addr: node.Address, id: node.ID, score: h.Sum64()})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].id < ranked[j].id
		}
		return ranked[i].score > ranked[j].score
	})

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, r := range ranked[:n] {
		out = append(out, r.addr)
	}
	return out
}
