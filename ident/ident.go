// Package ident holds the graph's value-type identifiers (spec §3):
// names, topic/service/publisher/subscriber/node identifiers, and
// topic/service declarations. All are comparable structs so equality
// is structural, per spec §3's invariant.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package ident

// Name is a slash-delimited, globally resolvable path. Resolution
// itself is out of scope (spec §1); this module treats a Name as an
// opaque, already-resolved value.
type Name string

// TopicID identifies a topic by name.
type TopicID struct {
	Name Name
}

// TopicDecl is immutable after construction (spec §3); reconnection
// after a fatal error reuses the same declaration rather than
// re-deriving it.
type TopicDecl struct {
	ID             TopicID
	TypeName       string
	TypeDefinition string // canonical type definition
	Digest         string // hex digest of the flattened message schema
}

// ServiceID identifies a service by name; URI is informational only
// and excluded from equality (spec §3).
type ServiceID struct {
	Name Name
	URI  string
}

func (a ServiceID) EqualKey(b ServiceID) bool { return a.Name == b.Name }

type ServiceDecl struct {
	ID       ServiceID
	TypeName string
	TypeDef  string
	Digest   string
}

// Equal implements spec §3: "Two service declarations are equal iff
// names, type-names, and digests match; the URI is informational."
func (a ServiceDecl) Equal(b ServiceDecl) bool {
	return a.ID.Name == b.ID.Name && a.TypeName == b.TypeName && a.Digest == b.Digest
}

// NodeID identifies a node by name and its slave (directory-facing)
// URI.
type NodeID struct {
	Name     Name
	SlaveURI string
}

type PublisherID struct {
	Node  NodeID
	Topic TopicID
}

func (p PublisherID) String() string { return string(p.Node.Name) + "@" + string(p.Topic.Name) }

type SubscriberID struct {
	Node  NodeID
	Topic TopicID
}

func (s SubscriberID) String() string { return string(s.Node.Name) + "@" + string(s.Topic.Name) }
