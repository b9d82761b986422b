package msgnet_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/matusnovak/msgnet"
)

func TestDispatcher(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Dispatcher Suite")
}

type dispReq struct{ Msg string }
type dispRes struct{ Msg string }

var _ = Describe("Dispatcher registration", func() {
	It("registers a request/reply handler exactly once per type", func() {
		client := msgnet.NewClient()
		err := msgnet.AddHandler(&client.Dispatcher, func(_ *msgnet.Peer, req dispReq) (dispRes, error) {
			return dispRes{Msg: req.Msg}, nil
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects a second registration for the same request type", func() {
		client := msgnet.NewClient()
		Expect(msgnet.AddHandler(&client.Dispatcher, func(_ *msgnet.Peer, req dispReq) (dispRes, error) {
			return dispRes{}, nil
		})).To(Succeed())

		err := msgnet.AddHandler(&client.Dispatcher, func(_ *msgnet.Peer, req dispReq) (dispRes, error) {
			return dispRes{}, nil
		})
		Expect(err).To(MatchError(msgnet.ErrAlreadyRegistered))
	})

	It("rejects a second registration even as a no-reply handler", func() {
		client := msgnet.NewClient()
		Expect(msgnet.AddHandlerNoReply(&client.Dispatcher, func(_ *msgnet.Peer, req dispReq) {})).To(Succeed())

		err := msgnet.AddHandlerNoReply(&client.Dispatcher, func(_ *msgnet.Peer, req dispReq) {})
		Expect(err).To(MatchError(msgnet.ErrAlreadyRegistered))
	})
})
