package anthropic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/llm/provider/anthropic"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
		path     string
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "msg_1",
				"type": "message",
				"role": "assistant",
				"model": "claude-haiku-4-5-20251001",
				"content": [
					{"type": "text", "text": "bug fix, "},
					{"type": "text", "text": "database"}
				],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 10, "output_tokens": 4}
			}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an api key", func() {
		_, err := anthropic.New(anthropic.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("joins text blocks and sends the system prompt", func() {
		c, err := anthropic.New(anthropic.Config{APIKey: "k", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Complete(context.Background(), llm.Request{
			System:      "tagger",
			Prompt:      "tag this",
			Temperature: 0.3,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("bug fix, database"))

		Expect(path).To(Equal("/v1/messages"))
		Expect(received["model"]).To(Equal(anthropic.DefaultModel))
		Expect(received["max_tokens"]).To(BeNumerically("==", anthropic.DefaultMaxTokens))
		Expect(received["system"]).To(HaveLen(1))
	})
})
