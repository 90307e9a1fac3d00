package cache_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/embeddings/cache"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
)

var _ = Describe("Embedder", func() {
	var (
		ctx   context.Context
		inner *testutils.MockEmbedder
		c     *cache.Embedder
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = testutils.NewMockEmbedder()
		inner.Embeddings["hello"] = []float32{1, 2, 3}

		var err error
		c, err = cache.New(inner, 100)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(c.Close()).To(Succeed())
	})

	It("serves repeated texts from the cache", func() {
		first, err := c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		c.Wait()

		second, err := c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(inner.Calls("hello")).To(Equal(1))
	})

	It("does not cache failures", func() {
		inner.FailOn = "boom"
		_, err := c.Embed(ctx, "boom")
		Expect(err).To(HaveOccurred())
		c.Wait()

		_, err = c.Embed(ctx, "boom")
		Expect(err).To(HaveOccurred())
		Expect(inner.Calls("boom")).To(Equal(2))
	})

	It("recomputes after Clear", func() {
		_, err := c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		c.Wait()
		c.Clear()

		_, err = c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(inner.Calls("hello")).To(Equal(2))
	})

	It("returns copies callers may mutate", func() {
		first, err := c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		c.Wait()
		first[0] = 99

		second, err := c.Embed(ctx, "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(second[0]).To(Equal(float32(1)))
	})
})
