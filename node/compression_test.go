package node_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/msgtypes"
	"github.com/gridswarm/corenode/node"
	"github.com/gridswarm/corenode/topic"
)

var _ = Describe("Negotiated compression", func() {
	It("delivers messages unchanged over an LZ4-compressed connection", func() {
		master := newFakeMaster()
		defer master.Close()

		talker, err := node.NewNode(node.Config{Name: "/talker3", MasterURI: master.URL(), SlaveAddr: "127.0.0.1:0"})
		Expect(err).NotTo(HaveOccurred())
		defer talker.Shutdown(context.Background())

		listener, err := node.NewNode(node.Config{Name: "/listener3", MasterURI: master.URL(), SlaveAddr: "127.0.0.1:0"})
		Expect(err).NotTo(HaveOccurred())
		defer listener.Shutdown(context.Background())

		decl := msgtypes.StringTopicDecl("/compressed")
		pub, err := talker.AdvertisePublisher(decl, msgtypes.StringCodec)
		Expect(err).NotTo(HaveOccurred())

		got := make(chan string, 4)
		sub, err := listener.Subscribe(decl, msgtypes.StringCodec, node.WithCompression())
		Expect(err).NotTo(HaveOccurred())
		sub.AddListener("collector", func(m topic.Message) { got <- m.Value.(msgtypes.StringMsg).Data })

		Eventually(func() int { return pub.NumSubscribers() }, 3*time.Second, 10*time.Millisecond).Should(Equal(1))

		Expect(pub.Publish(msgtypes.StringMsg{Data: "hello over lz4"})).To(Succeed())

		var v string
		Eventually(got, 3*time.Second).Should(Receive(&v))
		Expect(v).To(Equal("hello over lz4"))
	})
})
