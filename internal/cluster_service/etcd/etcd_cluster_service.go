package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cluster "github.com/AnishMulay/kfsaccess/internal/cluster_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const (
	EtcdDialTimeout = 5 * time.Second
	LeaseTTL        = 5 // seconds
	DefaultPrefix   = "/kfs/nodes/"
)

// registration is the value stored under <prefix><nodeID>. The key is
// attached to the node's lease, so it disappears when the node stops
// renewing.
type registration struct {
	Node     cluster.ClusterNode  `json:"node"`
	Liveness cluster.NodeLiveness `json:"liveness"`
}

type EtcdClusterService struct {
	mu        sync.RWMutex
	client    *clientv3.Client
	endpoints []string
	prefix    string
	logger    *zap.Logger
	ls        log_service.LogService

	selfNode cluster.ClusterNode
	leaseID  clientv3.LeaseID

	nodeCache     map[string]cluster.ClusterNode
	livenessCache map[string]cluster.NodeLiveness

	watchCallbacks []func()

	// loopCtx is cancelled by Stop and bounds the watch and keepalive
	// streams.
	loopCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEtcdClusterService builds the service; logger may be nil, in which case
// the etcd client logs nothing.
func NewEtcdClusterService(endpoints []string, prefix string, logger *zap.Logger, ls log_service.LogService) *EtcdClusterService {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EtcdClusterService{
		endpoints:     endpoints,
		prefix:        prefix,
		logger:        logger,
		ls:            ls,
		nodeCache:     make(map[string]cluster.ClusterNode),
		livenessCache: make(map[string]cluster.NodeLiveness),
	}
}

func (s *EtcdClusterService) Start(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Starting EtcdClusterService", Metadata: map[string]any{"endpoints": s.endpoints, "prefix": s.prefix}})

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   s.endpoints,
		DialTimeout: EtcdDialTimeout,
		Logger:      s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	s.client = cli

	if err := s.syncState(ctx); err != nil {
		_ = cli.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.loopCtx, s.cancel = loopCtx, cancel

	s.wg.Add(1)
	go s.watchLoop(loopCtx)

	return nil
}

func (s *EtcdClusterService) Stop(ctx context.Context) error {
	s.ls.Info(log_service.LogEvent{Message: "Stopping EtcdClusterService"})
	if s.client == nil {
		return cluster.ErrNotStarted
	}

	s.mu.RLock()
	leaseID := s.leaseID
	s.mu.RUnlock()

	if leaseID != 0 {
		if _, err := s.client.Revoke(ctx, leaseID); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Failed to revoke lease during shutdown", Metadata: map[string]any{"error": err.Error()}})
		}
	}

	if s.cancel != nil {
		s.cancel()
	}
	waitErr := s.waitLoops(ctx)
	if err := s.client.Close(); err != nil {
		return err
	}
	return waitErr
}

// waitLoops waits for the background loops to exit or ctx to expire.
func (s *EtcdClusterService) waitLoops(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		select {
		case <-done:
			return nil
		default:
		}
		s.ls.Warn(log_service.LogEvent{Message: "Timed out waiting for etcd loops to exit"})
		return fmt.Errorf("waiting for etcd loops: %w", ctx.Err())
	}
}

func (s *EtcdClusterService) RegisterNode(node cluster.ClusterNode) error {
	if s.client == nil || s.loopCtx == nil {
		return cluster.ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(context.Background(), EtcdDialTimeout)
	defer cancel()

	resp, err := s.client.Grant(ctx, LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	reg := registration{
		Node: node,
		Liveness: cluster.NodeLiveness{
			NodeID:        node.ID,
			Status:        cluster.NodeStatusAlive,
			LeaseID:       int64(resp.ID),
			LastRenewedAt: time.Now(),
		},
	}
	val, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to marshal registration: %w", err)
	}

	if _, err := s.client.Put(ctx, s.prefix+node.ID, string(val), clientv3.WithLease(resp.ID)); err != nil {
		return fmt.Errorf("failed to put registration key: %w", err)
	}

	s.mu.Lock()
	s.selfNode = node
	s.leaseID = resp.ID
	s.nodeCache[node.ID] = node
	s.livenessCache[node.ID] = reg.Liveness
	s.mu.Unlock()

	s.ls.Info(log_service.LogEvent{
		Message:  "Node Registered in Cluster",
		Metadata: map[string]any{"id": node.ID, "address": node.Address, "leaseID": int64(resp.ID)},
	})

	keepAlive, err := s.client.KeepAlive(s.loopCtx, resp.ID)
	if err != nil {
		return fmt.Errorf("failed to start keepalive: %w", err)
	}

	s.wg.Add(1)
	go s.heartbeatLoop(s.loopCtx, keepAlive)

	return nil
}

func (s *EtcdClusterService) heartbeatLoop(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.ls.Debug(log_service.LogEvent{Message: "Etcd keepalive stopped"})
			return
		case ka, ok := <-ch:
			if !ok {
				// Lease revoked or expired.
				s.ls.Debug(log_service.LogEvent{Message: "Etcd keepalive channel closed"})
				return
			}
			if ka == nil {
				continue
			}
			s.mu.Lock()
			if l, ok := s.livenessCache[s.selfNode.ID]; ok {
				l.LastRenewedAt = time.Now()
				s.livenessCache[s.selfNode.ID] = l
			}
			s.mu.Unlock()
		}
	}
}

func (s *EtcdClusterService) syncState(ctx context.Context) error {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list nodes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range resp.Kvs {
		var reg registration
		if err := json.Unmarshal(kv.Value, &reg); err == nil {
			s.nodeCache[reg.Node.ID] = reg.Node
			s.livenessCache[reg.Node.ID] = reg.Liveness
		}
	}
	return nil
}

func (s *EtcdClusterService) watchLoop(ctx context.Context) {
	defer s.wg.Done()

	watchCh := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix())
	for resp := range watchCh {
		if err := resp.Err(); err != nil {
			s.ls.Warn(log_service.LogEvent{Message: "Etcd watch error", Metadata: map[string]any{"error": err.Error()}})
			continue
		}
		for _, ev := range resp.Events {
			s.handleEvent(ev)
		}
	}
}

func (s *EtcdClusterService) handleEvent(ev *clientv3.Event) {
	id := strings.TrimPrefix(string(ev.Kv.Key), s.prefix)

	s.mu.Lock()
	switch ev.Type {
	case clientv3.EventTypePut:
		var reg registration
		if err := json.Unmarshal(ev.Kv.Value, &reg); err == nil {
			s.nodeCache[reg.Node.ID] = reg.Node
			s.livenessCache[reg.Node.ID] = reg.Liveness
		}
	case clientv3.EventTypeDelete:
		if entry, ok := s.livenessCache[id]; ok {
			entry.Status = cluster.NodeStatusDown
			s.livenessCache[id] = entry
		}
	}
	s.mu.Unlock()

	s.notifyWatchers()
}

func (s *EtcdClusterService) notifyWatchers() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.watchCallbacks {
		go cb()
	}
}

func (s *EtcdClusterService) Watch(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCallbacks = append(s.watchCallbacks, callback)
}

func (s *EtcdClusterService) GetHealthyNodes() ([]cluster.SafeNode, error) {
	all, err := s.GetAllNodes()
	if err != nil {
		return nil, err
	}
	healthy := all[:0]
	for _, n := range all {
		if n.Status == cluster.NodeStatusAlive {
			healthy = append(healthy, n)
		}
	}
	return healthy, nil
}

func (s *EtcdClusterService) GetAllNodes() ([]cluster.SafeNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make([]cluster.SafeNode, 0, len(s.nodeCache))
	for id, n := range s.nodeCache {
		status := cluster.NodeStatusDown
		if l, ok := s.livenessCache[id]; ok {
			status = l.Status
		}
		nodes = append(nodes, cluster.SafeNode{
			ID:       n.ID,
			Address:  n.Address,
			Status:   status,
			Metadata: n.Metadata,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

var _ cluster.ClusterService = (*EtcdClusterService)(nil)
