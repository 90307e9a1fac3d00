package testutils

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/vector"
)

// DescribeVectorDriver registers the behaviour every vector.Driver must
// satisfy using four-dimensional embeddings.
func DescribeVectorDriver(name string, newDriver func() vector.Driver) bool {
	return Describe(name+" vector driver", func() {
		var (
			ctx    context.Context
			driver vector.Driver
			ts     time.Time
		)

		doc := func(id, session, typ string, emb ...float32) vector.Document {
			return vector.Document{ID: id, SessionID: session, MemoryType: typ, Timestamp: ts, Embedding: emb}
		}

		BeforeEach(func() {
			ctx = context.Background()
			ts = time.UnixMilli(1700000000000).UTC()
			driver = newDriver()
			Expect(driver.Add(ctx, []vector.Document{
				doc("a", "s1", "conversation", 1, 0, 0, 0),
				doc("b", "s1", "summary", 0.9, 0.1, 0, 0),
				doc("c", "s2", "conversation", 0, 1, 0, 0),
			})).To(Succeed())
		})

		AfterEach(func() {
			driver.Close()
		})

		It("does nothing when given empty docs", func() {
			Expect(driver.Add(ctx, nil)).To(Succeed())
			n, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))
		})

		It("returns the closest documents by cosine distance", func() {
			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 2, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].ID).To(Equal("a"))
			Expect(results[0].Distance).To(BeNumerically("~", 0, 1e-4))
			Expect(results[0].Similarity()).To(BeNumerically("~", 1, 1e-4))
			Expect(results[1].ID).To(Equal("b"))
			Expect(results[0].Distance).To(BeNumerically("<=", results[1].Distance))
		})

		It("filters by session and type", func() {
			results, err := driver.Query(ctx, []float32{0, 1, 0, 0}, 5, vector.Filter{SessionID: "s1"})
			Expect(err).NotTo(HaveOccurred())
			ids := make([]string, 0, len(results))
			for _, r := range results {
				ids = append(ids, r.ID)
				Expect(r.SessionID).To(Equal("s1"))
			}
			Expect(ids).To(ConsistOf("a", "b"))

			results, err = driver.Query(ctx, []float32{1, 0, 0, 0}, 5, vector.Filter{SessionID: "s1", MemoryType: "summary"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].ID).To(Equal("b"))
		})

		It("replaces an existing document", func() {
			Expect(driver.Add(ctx, []vector.Document{doc("a", "s1", "conversation", 0, 0, 1, 0)})).To(Succeed())
			n, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(3))

			results, err := driver.Query(ctx, []float32{0, 0, 1, 0}, 1, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].ID).To(Equal("a"))
		})

		It("gets documents and skips unknown ids", func() {
			docs, err := driver.Get(ctx, []string{"c", "missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(1))
			Expect(docs[0].ID).To(Equal("c"))
			Expect(docs[0].SessionID).To(Equal("s2"))
			Expect(docs[0].Embedding).To(HaveLen(4))
			Expect(docs[0].Timestamp.Equal(ts)).To(BeTrue())
		})

		It("deletes documents", func() {
			Expect(driver.Delete(ctx, []string{"a", "missing"})).To(Succeed())
			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 3, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			for _, r := range results {
				Expect(r.ID).NotTo(Equal("a"))
			}
		})

		It("resets", func() {
			Expect(driver.Reset(ctx)).To(Succeed())
			n, err := driver.Count(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())
			results, err := driver.Query(ctx, []float32{1, 0, 0, 0}, 3, vector.Filter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})
	})
}
