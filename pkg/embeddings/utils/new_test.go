package embeddingutils_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/embeddings/cache"
	"github.com/papercomputeco/recall/pkg/embeddings/ollama"
	embeddingutils "github.com/papercomputeco/recall/pkg/embeddings/utils"
)

var _ = Describe("NewEmbedder", func() {
	ctx := context.Background()

	It("returns the disabled embedder by default", func() {
		e, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(Equal(embeddings.None{}))

		_, err = e.Embed(ctx, "x")
		Expect(err).To(MatchError(embeddings.ErrDisabled))
	})

	It("builds ollama", func() {
		e, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{ProviderType: "ollama"})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&ollama.Embedder{}))
	})

	It("wraps the provider in a cache when sized", func() {
		e, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{ProviderType: "ollama", CacheSize: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(e).To(BeAssignableToTypeOf(&cache.Embedder{}))
		Expect(e.Close()).To(Succeed())
	})

	It("rejects openai without a key", func() {
		_, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{ProviderType: "openai"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := embeddingutils.NewEmbedder(ctx, &embeddingutils.NewEmbedderOpts{ProviderType: "bogus"})
		Expect(err).To(MatchError(ContainSubstring("unsupported embedding provider")))
	})
})

var _ = DescribeTable("SplitGeminiTarget",
	func(target, project, location string) {
		p, l := embeddingutils.SplitGeminiTarget(target)
		Expect(p).To(Equal(project))
		Expect(l).To(Equal(location))
	},
	Entry("project only", "my-proj", "my-proj", embeddingutils.DefaultGeminiLocation),
	Entry("project and location", "my-proj/europe-west4", "my-proj", "europe-west4"),
)
