package eventstream_test

import (
	"encoding/json"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

var _ = Describe("Event", func() {
	It("marshals MemoryEvent with expected top-level keys", func() {
		now := time.Unix(1735689600, 0)
		event := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryCompressed, "session_1", now)
		event.MemoryID = "summary_1"
		event.MemoryType = "summary"
		event.TokenCount = 120
		event.RelatedIDs = []string{"memory_1", "memory_2"}
		event.CompressionRatio = 3.5

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())

		Expect(got).To(HaveKeyWithValue("schema_version", BeNumerically("==", eventstream.SchemaVersionV1)))
		Expect(got).To(HaveKeyWithValue("event_type", "memory.compressed"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKeyWithValue("emitted_at", "2025-01-01T00:00:00Z"))
		Expect(got).To(HaveKeyWithValue("session_id", "session_1"))
		Expect(got).To(HaveKeyWithValue("related_ids", ConsistOf("memory_1", "memory_2")))
		Expect(got).To(HaveKeyWithValue("compression_ratio", 3.5))
	})

	It("omits empty optional fields", func() {
		event := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryDeleted, "", time.Now())
		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(payload)).NotTo(ContainSubstring("session_id"))
		Expect(string(payload)).NotTo(ContainSubstring("compression_ratio"))
	})

	It("assigns unique event ids", func() {
		a := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryStored, "s", time.Now())
		b := eventstream.NewMemoryEvent(eventstream.EventTypeMemoryStored, "s", time.Now())
		Expect(a.EventID).NotTo(Equal(b.EventID))
		Expect(strings.HasPrefix(a.EventID, "evt_")).To(BeTrue())
	})

	It("defines stable event constants", func() {
		Expect(eventstream.SchemaVersionV1).To(BeNumerically(">", 0))
		Expect(eventstream.EventTypeMemoryStored).To(Equal("memory.stored"))
		Expect(eventstream.EventTypeMemoryCompressed).To(Equal("memory.compressed"))
		Expect(eventstream.EventTypeMemoryDeleted).To(Equal("memory.deleted"))
	})

	It("provides ErrNilEvent for nil payload validation", func() {
		Expect(eventstream.ErrNilEvent).To(MatchError("nil memory event"))
	})
})
