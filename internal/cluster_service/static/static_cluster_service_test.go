package static

import (
	"context"
	"testing"
	"time"

	cluster "github.com/AnishMulay/kfsaccess/internal/cluster_service"
	"github.com/AnishMulay/kfsaccess/internal/log_service/zaplog"
)

func TestStaticClusterService_Membership(t *testing.T) {
	s := NewStaticClusterService([]cluster.ClusterNode{
		{ID: "b", Address: "b:1"},
		{ID: "a", Address: "a:1"},
	}, zaplog.NewNop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 4)
	s.Watch(func() { changed <- struct{}{} })

	if err := s.RegisterNode(cluster.ClusterNode{ID: "c", Address: "c:1"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watch callback not invoked")
	}

	nodes, err := s.GetHealthyNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 || nodes[0].ID != "a" || nodes[2].ID != "c" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}

	s.DeregisterNode("a")
	nodes, _ = s.GetHealthyNodes()
	if len(nodes) != 2 || nodes[0].ID != "b" {
		t.Fatalf("unexpected nodes after deregister: %+v", nodes)
	}
}
