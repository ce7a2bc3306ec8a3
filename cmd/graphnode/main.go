// graphnode is a demo CLI binary wiring one node end to end: advertise
// a publisher (talk) or subscribe to a topic (listen), both against a
// running master. Adapted from the teacher's cmd/cli/cli/app.go
// command-table style.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/msgtypes"
	"github.com/gridswarm/corenode/node"
	"github.com/gridswarm/corenode/topic"
)

var (
	masterFlag = cli.StringFlag{Name: "master", Value: "http://127.0.0.1:11311/", Usage: "master directory URI"}
	nameFlag   = cli.StringFlag{Name: "name", Required: true, Usage: "this node's graph name, e.g. /talker"}
	topicFlag  = cli.StringFlag{Name: "topic", Required: true, Usage: "topic name, e.g. /chatter"}
)

func main() {
	app := cli.NewApp()
	app.Name = "graphnode"
	app.Usage = "publish or subscribe on a messaging graph"
	app.Commands = []cli.Command{
		{
			Name:   "talk",
			Usage:  "advertise a publisher and send one line per Enter keypress",
			Flags:  []cli.Flag{masterFlag, nameFlag, topicFlag},
			Action: runTalk,
		},
		{
			Name:   "listen",
			Usage:  "subscribe to a topic and print every message received",
			Flags:  []cli.Flag{masterFlag, nameFlag, topicFlag},
			Action: runListen,
		},
	}

	if err := app.Run(os.Args); err != nil {
		color.Red("graphnode: %v", err)
		os.Exit(1)
	}
}

func runTalk(c *cli.Context) error {
	n, err := node.NewNode(node.Config{
		Name:      ident.Name(c.String("name")),
		MasterURI: c.String("master"),
		SlaveAddr: "0.0.0.0:0",
	})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer n.Shutdown(ctx)

	decl := msgtypes.StringTopicDecl(ident.Name(c.String("topic")))
	pub, err := n.AdvertisePublisher(decl, msgtypes.StringCodec, node.WithLatch())
	if err != nil {
		return err
	}
	color.Green("advertised %s, waiting for subscribers...", decl.ID.Name)

	onSignal(func() { n.Shutdown(ctx) })

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if err := pub.Publish(msgtypes.StringMsg{Data: line}); err != nil {
			color.Red("publish failed: %v", err)
			continue
		}
		color.Cyan("-> [%d subscriber(s)] %s", pub.NumSubscribers(), line)
	}
	return nil
}

func runListen(c *cli.Context) error {
	n, err := node.NewNode(node.Config{
		Name:      ident.Name(c.String("name")),
		MasterURI: c.String("master"),
		SlaveAddr: "0.0.0.0:0",
	})
	if err != nil {
		return err
	}
	ctx := context.Background()
	defer n.Shutdown(ctx)

	decl := msgtypes.StringTopicDecl(ident.Name(c.String("topic")))
	sub, err := n.Subscribe(decl, msgtypes.StringCodec, node.WithLatchAware())
	if err != nil {
		return err
	}
	color.Green("subscribed to %s", decl.ID.Name)

	sub.AddListener("print", func(m topic.Message) {
		color.Yellow("<- %s", m.Value.(msgtypes.StringMsg).Data)
	})

	waitForSignal()
	return nil
}

func onSignal(fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		fn()
		fmt.Println()
		os.Exit(0)
	}()
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
