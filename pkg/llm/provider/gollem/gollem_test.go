package gollem_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m-mizutani/gollem"

	"github.com/papercomputeco/recall/pkg/llm"
	gollemprovider "github.com/papercomputeco/recall/pkg/llm/provider/gollem"
)

type mockSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	return s.generateContentFn(ctx, input...)
}

func (s *mockSession) GenerateStream(context.Context, ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockSession) CountToken(context.Context, ...gollem.Input) (int, error) {
	return 0, nil
}

type mockClient struct {
	session  *mockSession
	options  int
	sessions int
}

func (c *mockClient) NewSession(_ context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	c.sessions++
	c.options = len(options)
	return c.session, nil
}

var _ = Describe("Completer", func() {
	It("joins the response texts", func() {
		var prompt gollem.Text
		client := &mockClient{session: &mockSession{
			generateContentFn: func(_ context.Context, input ...gollem.Input) (*gollem.Response, error) {
				prompt = input[0].(gollem.Text)
				return &gollem.Response{Texts: []string{"first", "second"}}, nil
			},
		}}

		c := gollemprovider.New(client)
		out, err := c.Complete(context.Background(), llm.Request{System: "sys", Prompt: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("first\nsecond"))
		Expect(string(prompt)).To(Equal("hello"))
		Expect(client.options).To(Equal(1))
	})

	It("opens a new session per call", func() {
		client := &mockClient{session: &mockSession{
			generateContentFn: func(context.Context, ...gollem.Input) (*gollem.Response, error) {
				return &gollem.Response{}, nil
			},
		}}
		c := gollemprovider.New(client)
		for range 2 {
			out, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(BeEmpty())
		}
		Expect(client.sessions).To(Equal(2))
		Expect(client.options).To(BeZero())
	})

	It("wraps generation errors", func() {
		cause := errors.New("quota")
		client := &mockClient{session: &mockSession{
			generateContentFn: func(context.Context, ...gollem.Input) (*gollem.Response, error) {
				return nil, cause
			},
		}}
		_, err := gollemprovider.New(client).Complete(context.Background(), llm.Request{Prompt: "p"})
		Expect(err).To(MatchError(cause))
	})
})
