// Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/gridswarm/corenode/cmn/atomic"
	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/cmn/nlog"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/masterapi"
	"github.com/gridswarm/corenode/registry"
	"github.com/gridswarm/corenode/rpcsvc"
	"github.com/gridswarm/corenode/slaveapi"
)

var errNodeClosed = errors.New("node: shutting down")

// Node owns one master client, one slaveapi server (this node's own
// directory-facing endpoint), the shared scheduler, and every
// publisher/subscriber/service handle this process has created (spec
// §4.8).
type Node struct {
	cfg     Config
	master  *masterapi.Client
	slave   *slaveapi.Server
	sched   rpcsvc.Scheduler
	goalSeq atomic.Uint64
	metrics *metrics

	mu          sync.Mutex
	publishers  map[ident.Name]*Publisher
	subscribers map[ident.Name]*Subscriber
	services    map[ident.Name]*ServiceServer
	closed      bool
}

// NewNode starts this node's directory-facing slaveapi server and, if
// configured, the Prometheus endpoint. It does not yet contact the
// master; registration happens lazily per AdvertisePublisher/
// Subscribe/AdvertiseService call.
func NewNode(cfg Config) (*Node, error) {
	n := &Node{
		cfg:         cfg,
		master:      masterapi.NewClient(cfg.MasterURI),
		sched:       rpcsvc.NewPool(),
		metrics:     newMetrics(),
		publishers:  make(map[ident.Name]*Publisher),
		subscribers: make(map[ident.Name]*Subscriber),
		services:    make(map[ident.Name]*ServiceServer),
	}

	slave, err := slaveapi.NewServer(cfg.SlaveAddr, n.requestTopicHandler, n.publisherUpdateHandler)
	if err != nil {
		return nil, err
	}
	n.slave = slave
	go n.slave.Serve()

	if cfg.PrometheusAddr != "" {
		if err := n.metrics.Serve(cfg.PrometheusAddr); err != nil {
			return nil, err
		}
	}

	return n, nil
}

func (n *Node) slaveURI() string { return "http://" + n.slave.Addr() + "/" }

// NextGoalID mints the correlation ID threaded through service calls
// (SPEC_FULL §4.8's "one genuinely global datum").
func (n *Node) NextGoalID() string { return cos.GenGoalID(n.goalSeq.Inc()) }

// requestTopicHandler answers the slaveapi requestTopic RPC for
// whichever of this node's publishers matches topic.
func (n *Node) requestTopicHandler(caller, topic string, protocols []string) (string, string, int, error) {
	n.mu.Lock()
	p, ok := n.publishers[ident.Name(topic)]
	n.mu.Unlock()
	if !ok {
		return "", "", 0, fmt.Errorf("no publisher advertised for topic %s", topic)
	}
	host, portStr, err := net.SplitHostPort(p.Addr())
	if err != nil {
		return "", "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", "", 0, err
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return "TCPROS", host, port, nil
}

// publisherUpdateHandler forwards a fresh publisher list to the
// matching subscriber's connection manager (spec §4.5).
func (n *Node) publisherUpdateHandler(caller, topic string, publisherURIs []string) {
	n.mu.Lock()
	s, ok := n.subscribers[ident.Name(topic)]
	n.mu.Unlock()
	if !ok {
		nlog.Warningf("node: publisherUpdate for unknown topic %s", topic)
		return
	}
	s.applyPublisherUpdate(publisherURIs)
}

// requestTopicRPC calls another node's slaveapi requestTopic RPC,
// used by a Subscriber's discover.Manager connect task (spec §4.5
// step 1).
func (n *Node) requestTopicRPC(ctx context.Context, slaveURI, topicName, callerID string) (protocol, host, port string, err error) {
	_, _, value, err := n.master.CallPeer(ctx, slaveURI, "requestTopic", callerID, topicName, "TCPROS")
	if err != nil {
		return "", "", "", err
	}
	arr, ok := value.([]any)
	if !ok || len(arr) < 3 {
		return "", "", "", fmt.Errorf("requestTopic: malformed reply %v", value)
	}
	return fmt.Sprint(arr[0]), fmt.Sprint(arr[1]), fmt.Sprint(arr[2]), nil
}

// publisherIDsFromURIs builds PublisherID values for discover.Manager
// from the bare slave-URI list the master hands back (spec §6): the
// master surface names no publisher node identity beyond its URI, so
// the URI itself is used as the synthetic node name to key each
// distinct publisher.
func (n *Node) publisherIDsFromURIs(topicID ident.TopicID, uris []string) []ident.PublisherID {
	out := make([]ident.PublisherID, 0, len(uris))
	for _, uri := range uris {
		out = append(out, ident.PublisherID{
			Node:  ident.NodeID{Name: ident.Name(uri), SlaveURI: uri},
			Topic: topicID,
		})
	}
	return out
}

// Metrics returns a point-in-time snapshot of this node's handle and
// connection counts; queue depths are not reported.
func (n *Node) Metrics() *Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	snap := &Snapshot{
		Publishers:          len(n.publishers),
		Subscribers:         len(n.subscribers),
		ServiceServers:      len(n.services),
		RegistrationRetries: registry.Retries(),
	}
	for _, p := range n.publishers {
		snap.OutgoingConns += p.NumSubscribers()
	}
	for _, s := range n.subscribers {
		snap.IncomingConns += s.NumConnections()
	}
	n.metrics.outgoingConns.Set(float64(snap.OutgoingConns))
	n.metrics.incomingConns.Set(float64(snap.IncomingConns))
	n.metrics.registrationRetries.Set(float64(snap.RegistrationRetries))
	return snap
}

// Shutdown calls Shutdown on every owned publisher, subscriber and
// service handle (each unregistering itself if its registration
// succeeded), then stops the scheduler, the directory server and the
// metrics endpoint.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	pubs := n.publishers
	subs := n.subscribers
	svcs := n.services
	n.publishers = nil
	n.subscribers = nil
	n.services = nil
	n.mu.Unlock()

	var errs cos.Errs
	for _, p := range pubs {
		errs.Add(p.Shutdown(ctx))
	}
	for _, s := range subs {
		errs.Add(s.Shutdown(ctx))
	}
	for _, s := range svcs {
		errs.Add(s.Shutdown(ctx))
	}

	n.sched.Stop()
	n.slave.Shutdown()
	n.metrics.Shutdown()

	return errs.JoinErr()
}
