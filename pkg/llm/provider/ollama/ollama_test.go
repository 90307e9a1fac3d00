package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/llm"
	"github.com/papercomputeco/recall/pkg/llm/provider/ollama"
)

var _ = Describe("Completer", func() {
	var (
		server   *httptest.Server
		received map[string]any
		status   int
	)

	BeforeEach(func() {
		status = http.StatusOK
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte("model missing"))
				return
			}
			_, _ = w.Write([]byte(`{"message": {"role": "assistant", "content": "a summary"}, "done": true}`))
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("sends the system prompt, temperature and token limit", func() {
		c := ollama.New(ollama.Config{BaseURL: server.URL})
		out, err := c.Complete(context.Background(), llm.Request{
			System:      "be brief",
			Prompt:      "summarize",
			MaxTokens:   200,
			Temperature: 0.3,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("a summary"))

		Expect(received["model"]).To(Equal(ollama.DefaultModel))
		Expect(received["stream"]).To(BeFalse())
		messages := received["messages"].([]any)
		Expect(messages).To(HaveLen(2))
		Expect(messages[0].(map[string]any)["role"]).To(Equal("system"))
		Expect(messages[1].(map[string]any)["content"]).To(Equal("summarize"))
		options := received["options"].(map[string]any)
		Expect(options["temperature"]).To(BeNumerically("~", 0.3))
		Expect(options["num_predict"]).To(BeNumerically("==", 200))
	})

	It("omits an empty system prompt", func() {
		c := ollama.New(ollama.Config{BaseURL: server.URL})
		_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
		Expect(err).NotTo(HaveOccurred())
		Expect(received["messages"]).To(HaveLen(1))
	})

	It("reports API errors", func() {
		status = http.StatusNotFound
		c := ollama.New(ollama.Config{BaseURL: server.URL})
		_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
		Expect(err).To(MatchError(ContainSubstring("status 404")))
	})
})
