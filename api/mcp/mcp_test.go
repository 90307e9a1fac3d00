package mcp_test

import (
	"context"
	"encoding/json"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/api/mcp"
	"github.com/papercomputeco/recall/api/search"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/manager"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/retriever"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

type fakeEngine struct {
	memories []*memory.Memory
	metrics  []string
	session  string
	budget   int

	keywordSearches int
}

func (f *fakeEngine) HybridSearch(_ context.Context, _ string, o retriever.Options) []retriever.Scored {
	var out []retriever.Scored
	for _, m := range f.memories {
		if o.Filter.SessionID == "" || o.Filter.SessionID == m.SessionID {
			out = append(out, retriever.Scored{Memory: m, Score: m.RelevanceScore})
		}
	}
	return out
}

func (f *fakeEngine) SearchMemories(_ context.Context, _ string, o manager.SearchOptions) ([]*memory.Memory, error) {
	f.keywordSearches++
	var out []*memory.Memory
	for _, m := range f.memories {
		if o.SessionID == "" || o.SessionID == m.SessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeEngine) RetrieveContext(_ context.Context, _, sessionID string, maxTokens int) ([]*memory.Memory, string) {
	f.session, f.budget = sessionID, maxTokens
	return f.memories, memory.FormatContext(f.memories)
}

func (f *fakeEngine) RecordMetric(_ context.Context, name string, _ float64, _ map[string]any) error {
	f.metrics = append(f.metrics, name)
	return nil
}

func firstText(res *sdk.CallToolResult) string {
	for _, c := range res.Content {
		if txt, ok := c.(*sdk.TextContent); ok {
			return txt.Text
		}
	}
	return ""
}

var _ = Describe("MCP Server", func() {
	var engine *fakeEngine

	BeforeEach(func() {
		ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		engine = &fakeEngine{memories: []*memory.Memory{
			testutils.NewTestMemory("session_a", memory.TypeConversation, "rotate the API keys", 1.0, ts),
			testutils.NewTestMemory("session_b", memory.TypeContext, "deploy on fridays", 0.8, ts),
		}}
	})

	Describe("NewServer", func() {
		It("returns an error when the engine is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Logger: logger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("engine is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := mcp.NewServer(mcp.Config{Engine: engine})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("builds an empty server in noop mode", func() {
			server, err := mcp.NewServer(mcp.Config{Noop: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("tools", func() {
		var (
			ctx     context.Context
			session *sdk.ClientSession
		)

		BeforeEach(func() {
			ctx = context.Background()
			server, err := mcp.NewServer(mcp.Config{Engine: engine, Logger: logger.Nop()})
			Expect(err).NotTo(HaveOccurred())

			clientTransport, serverTransport := sdk.NewInMemoryTransports()
			serverCtx, cancel := context.WithCancel(ctx)
			serverSession, err := server.MCPServer().Connect(serverCtx, serverTransport, nil)
			Expect(err).NotTo(HaveOccurred())

			client := sdk.NewClient(&sdk.Implementation{Name: "client", Version: "test"}, nil)
			session, err = client.Connect(ctx, clientTransport, nil)
			Expect(err).NotTo(HaveOccurred())

			DeferCleanup(func() {
				_ = session.Close()
				_ = serverSession.Close()
				cancel()
			})
		})

		It("lists both memory tools", func() {
			res, err := session.ListTools(ctx, &sdk.ListToolsParams{})
			Expect(err).NotTo(HaveOccurred())

			var names []string
			for _, t := range res.Tools {
				names = append(names, t.Name)
			}
			Expect(names).To(ConsistOf("memory_search", "memory_context"))
		})

		It("searches within a session", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_search",
				Arguments: map[string]any{"query": "keys", "session_id": "session_a"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			var out search.SearchOutput
			Expect(json.Unmarshal([]byte(firstText(res)), &out)).To(Succeed())
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].SessionID).To(Equal("session_a"))
		})

		It("searches by keyword when asked", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_search",
				Arguments: map[string]any{"query": "deploy", "session_id": "session_b", "mode": "keyword"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			var out search.SearchOutput
			Expect(json.Unmarshal([]byte(firstText(res)), &out)).To(Succeed())
			Expect(out.Mode).To(Equal(search.ModeKeyword))
			Expect(out.Count).To(Equal(1))
			Expect(out.Results[0].Score).To(Equal(0.8))
			Expect(engine.keywordSearches).To(Equal(1))
		})

		It("reports an unknown mode as a tool error", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_search",
				Arguments: map[string]any{"query": "keys", "mode": "fuzzy"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(firstText(res)).To(Equal(search.ErrInvalidMode.Error()))
		})

		It("reports an empty query as a tool error", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_search",
				Arguments: map[string]any{"query": ""},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
			Expect(firstText(res)).To(Equal("query is required"))
		})

		It("assembles context and records the response time", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_context",
				Arguments: map[string]any{"session_id": "session_a", "max_tokens": 50},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())

			var out search.ContextOutput
			Expect(json.Unmarshal([]byte(firstText(res)), &out)).To(Succeed())
			Expect(out.Context).To(ContainSubstring("rotate the API keys"))
			Expect(engine.session).To(Equal("session_a"))
			Expect(engine.budget).To(Equal(50))
			Expect(engine.metrics).To(ConsistOf(memory.MetricResponseTime))
		})

		It("requires a session for context", func() {
			res, err := session.CallTool(ctx, &sdk.CallToolParams{
				Name:      "memory_context",
				Arguments: map[string]any{"query": "anything"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})
	})
})
