package node_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/gridswarm/corenode/cmn/cos"
	"github.com/gridswarm/corenode/ident"
	"github.com/gridswarm/corenode/msgtypes"
	"github.com/gridswarm/corenode/node"
	"github.com/gridswarm/corenode/rpcsvc"
)

var _ = Describe("Node services", func() {
	It("round-trips a request through AdvertiseService and ServiceClient", func() {
		master := newFakeMaster()
		defer master.Close()

		n, err := node.NewNode(node.Config{Name: "/echoer", MasterURI: master.URL(), SlaveAddr: "127.0.0.1:0"})
		Expect(err).NotTo(HaveOccurred())
		defer n.Shutdown(context.Background())

		decl := ident.ServiceDecl{ID: ident.ServiceID{Name: "/echo"}, TypeName: "demo/Echo", Digest: "*"}
		handler := func(ctx context.Context, req any) (any, error) {
			return msgtypes.StringMsg{Data: req.(msgtypes.StringMsg).Data + "!"}, nil
		}
		ss, err := n.AdvertiseService(decl, msgtypes.StringCodec, msgtypes.StringCodec, handler)
		Expect(err).NotTo(HaveOccurred())

		_, err = n.AdvertiseService(decl, msgtypes.StringCodec, msgtypes.StringCodec, handler)
		Expect(cos.IsKind(err, cos.KindDuplicateService)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("already advertised"))
		Expect(err.Error()).NotTo(ContainSubstring("different type/digest"))

		conflicting := decl
		conflicting.Digest = "different-digest"
		_, err = n.AdvertiseService(conflicting, msgtypes.StringCodec, msgtypes.StringCodec, handler)
		Expect(cos.IsKind(err, cos.KindDuplicateService)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("different type/digest"))

		clientDecl := decl
		clientDecl.ID.URI = ss.Addr()
		client := n.ServiceClient(clientDecl, msgtypes.StringCodec, msgtypes.StringCodec)
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.CallSync(ctx, msgtypes.StringMsg{Data: "ping"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.(msgtypes.StringMsg).Data).To(Equal("ping!"))
	})

	It("fails a call when the service endpoint refuses the connection", func() {
		decl := ident.ServiceDecl{ID: ident.ServiceID{Name: "/gone", URI: "127.0.0.1:1"}, TypeName: "demo/Echo", Digest: "*"}
		cl := rpcsvc.NewClient(decl, "/caller", msgtypes.StringCodec, msgtypes.StringCodec)
		defer cl.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := cl.CallSync(ctx, msgtypes.StringMsg{Data: "x"})
		Expect(err).To(HaveOccurred())
	})
})
