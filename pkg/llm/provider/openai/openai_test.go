package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/llm/provider/openai"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
	)

	BeforeEach(func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "0.8"}}],
				"usage": {"prompt_tokens": 10, "completion_tokens": 1, "total_tokens": 11}
			}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("requires an api key", func() {
		_, err := openai.New(openai.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("maps the request and returns the first choice", func() {
		c, err := openai.New(openai.Config{APIKey: "k", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Complete(context.Background(), llm.Request{
			System:      "rate relevance",
			Prompt:      "memory text",
			MaxTokens:   10,
			Temperature: 0.1,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("0.8"))

		Expect(received["model"]).To(Equal(openai.DefaultModel))
		Expect(received["max_tokens"]).To(BeNumerically("==", 10))
		Expect(received["temperature"]).To(BeNumerically("~", 0.1))
		Expect(received["messages"]).To(HaveLen(2))
	})
})
