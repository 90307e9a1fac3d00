package sqlitevec_test

import (
	"context"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/logger"
	testutils "github.com/papercomputeco/recall/pkg/utils/test"
	"github.com/papercomputeco/recall/pkg/vector"
	"github.com/papercomputeco/recall/pkg/vector/sqlitevec"
)

var _ = testutils.DescribeVectorDriver("sqlitevec", func() vector.Driver {
	d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4}, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return d
})

var _ = Describe("Driver", func() {
	var log *slog.Logger

	BeforeEach(func() {
		log = logger.Nop()
	})

	Describe("NewDriver", func() {
		It("should return an error when DBPath is empty", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ""}, log)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("database path is required"))
		})

		It("should error when dimension not specified", func() {
			_, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:"}, log)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("dimension checks", func() {
		It("rejects embeddings of the wrong size", func() {
			d, err := sqlitevec.NewDriver(sqlitevec.Config{DBPath: ":memory:", Dimensions: 4}, log)
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			err = d.Add(context.Background(), []vector.Document{{ID: "x", Embedding: []float32{1, 2}}})
			Expect(err).To(MatchError(vector.ErrDimensions))

			_, err = d.Query(context.Background(), []float32{1}, 1, vector.Filter{})
			Expect(err).To(MatchError(vector.ErrDimensions))
		})
	})
})
