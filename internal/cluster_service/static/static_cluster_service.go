package static

import (
	"context"
	"sort"
	"sync"

	cluster "github.com/AnishMulay/kfsaccess/internal/cluster_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
)

// StaticClusterService serves membership from configuration. Nodes listed
// up front and nodes that register are all considered alive until
// Deregister.
type StaticClusterService struct {
	mu             sync.RWMutex
	nodes          map[string]cluster.ClusterNode
	watchCallbacks []func()
	ls             log_service.LogService
}

func NewStaticClusterService(nodes []cluster.ClusterNode, ls log_service.LogService) *StaticClusterService {
	s := &StaticClusterService{
		nodes: make(map[string]cluster.ClusterNode, len(nodes)),
		ls:    ls,
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *StaticClusterService) Start(ctx context.Context) error {
	s.mu.RLock()
	count := len(s.nodes)
	s.mu.RUnlock()
	s.ls.Info(log_service.LogEvent{Message: "Starting StaticClusterService", Metadata: map[string]any{"nodes": count}})
	return nil
}

func (s *StaticClusterService) Stop(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping StaticClusterService"})
	return nil
}

func (s *StaticClusterService) RegisterNode(node cluster.ClusterNode) error {
	s.mu.Lock()
	s.nodes[node.ID] = node
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Node Registered in Cluster",
		Metadata: map[string]any{"id": node.ID, "address": node.Address},
	})
	s.notifyWatchers()
	return nil
}

func (s *StaticClusterService) DeregisterNode(nodeID string) {
	s.mu.Lock()
	delete(s.nodes, nodeID)
	s.mu.Unlock()
	s.notifyWatchers()
}

func (s *StaticClusterService) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.watchCallbacks {
		go cb()
	}
}

func (s *StaticClusterService) Watch(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCallbacks = append(s.watchCallbacks, callback)
}

func (s *StaticClusterService) GetHealthyNodes() ([]cluster.SafeNode, error) {
	return s.GetAllNodes()
}

func (s *StaticClusterService) GetAllNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]cluster.SafeNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, cluster.SafeNode{
			ID:       n.ID,
			Address:  n.Address,
			Status:   cluster.NodeStatusAlive,
			Metadata: n.Metadata,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

var _ cluster.ClusterService = (*StaticClusterService)(nil)
