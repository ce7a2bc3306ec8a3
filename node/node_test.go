package node_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/msgtypes"
	"github.com/gridswarm/corenode/node"
	"github.com/gridswarm/corenode/topic"
)

var _ = Describe("Node", func() {
	It("delivers a published message end-to-end through the master and the wire", func() {
		master := newFakeMaster()
		defer master.Close()

		talker, err := node.NewNode(node.Config{
			Name:      "/talker",
			MasterURI: master.URL(),
			SlaveAddr: "127.0.0.1:0",
		})
		Expect(err).NotTo(HaveOccurred())
		defer talker.Shutdown(context.Background())

		listener, err := node.NewNode(node.Config{
			Name:      "/listener",
			MasterURI: master.URL(),
			SlaveAddr: "127.0.0.1:0",
		})
		Expect(err).NotTo(HaveOccurred())
		defer listener.Shutdown(context.Background())

		decl := msgtypes.StringTopicDecl("/chatter")

		pub, err := talker.AdvertisePublisher(decl, msgtypes.StringCodec)
		Expect(err).NotTo(HaveOccurred())

		var mu sync.Mutex
		var got []string
		sub, err := listener.Subscribe(decl, msgtypes.StringCodec)
		Expect(err).NotTo(HaveOccurred())

		sub.AddListener("collector", func(m topic.Message) {
			mu.Lock()
			got = append(got, m.Value.(msgtypes.StringMsg).Data)
			mu.Unlock()
		})

		Eventually(func() int { return pub.NumSubscribers() }, 3*time.Second, 10*time.Millisecond).Should(Equal(1))

		Expect(pub.Publish(msgtypes.StringMsg{Data: "hello graph"})).To(Succeed())

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), got...)
		}, 3*time.Second, 10*time.Millisecond).Should(ContainElement("hello graph"))
	})
})
