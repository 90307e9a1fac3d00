package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("reports success and returns nil", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "decaying relevance", func() error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring("decaying relevance"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
	})

	It("returns the error of fn and marks the step failed", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		err := cliui.Step(&buf, "cleanup", func() error { return boom })
		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})
})

var _ = DescribeTable("FormatDuration",
	func(d time.Duration, want string) {
		Expect(cliui.FormatDuration(d)).To(Equal(want))
	},
	Entry("milliseconds", 12*time.Millisecond, "12ms"),
	Entry("seconds", 3200*time.Millisecond, "3.2s"),
)

var _ = Describe("RenderContext", func() {
	It("keeps the text and drops the bracketed type labels", func() {
		out, err := cliui.RenderContext("[SUMMARY] user asked about keys\n\n[CONVERSATION] rotate them monthly")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("SUMMARY"))
		Expect(out).To(ContainSubstring("keys"))
		Expect(out).To(ContainSubstring("monthly"))
		Expect(out).NotTo(ContainSubstring("[SUMMARY]"))
	})
})
