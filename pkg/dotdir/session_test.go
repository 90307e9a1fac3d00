package dotdir_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recall/pkg/dotdir"
)

var _ = Describe("dotdir.Manager active session", func() {
	var (
		tmpDir string
		m      *dotdir.Manager
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		m = dotdir.NewManager()
	})

	Describe("LoadActiveSession", func() {
		It("returns nil when nothing was selected", func() {
			state, err := m.LoadActiveSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("returns an error for invalid JSON", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte("{not json"), 0o600)).To(Succeed())

			_, err := m.LoadActiveSession(tmpDir)
			Expect(err).To(MatchError(ContainSubstring("parsing active session")))
		})

		It("treats an empty session id as unset", func() {
			Expect(os.WriteFile(filepath.Join(tmpDir, "session.json"), []byte(`{"session_id":""}`), 0o600)).To(Succeed())

			state, err := m.LoadActiveSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})
	})

	Describe("SaveActiveSession", func() {
		It("rejects a missing session id", func() {
			Expect(m.SaveActiveSession(nil, tmpDir)).NotTo(Succeed())
			Expect(m.SaveActiveSession(&dotdir.ActiveSession{}, tmpDir)).NotTo(Succeed())
		})

		It("round-trips and stamps the update time", func() {
			Expect(m.SaveActiveSession(&dotdir.ActiveSession{SessionID: "session_1", Title: "planning"}, tmpDir)).To(Succeed())

			state, err := m.LoadActiveSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.SessionID).To(Equal("session_1"))
			Expect(state.Title).To(Equal("planning"))
			Expect(state.UpdatedAt).NotTo(BeZero())
		})

		It("overwrites the previous selection", func() {
			Expect(m.SaveActiveSession(&dotdir.ActiveSession{SessionID: "session_1"}, tmpDir)).To(Succeed())
			Expect(m.SaveActiveSession(&dotdir.ActiveSession{SessionID: "session_2"}, tmpDir)).To(Succeed())

			state, err := m.LoadActiveSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state.SessionID).To(Equal("session_2"))
		})
	})

	Describe("ClearActiveSession", func() {
		It("removes the pointer", func() {
			Expect(m.SaveActiveSession(&dotdir.ActiveSession{SessionID: "session_1"}, tmpDir)).To(Succeed())
			Expect(m.ClearActiveSession(tmpDir)).To(Succeed())

			state, err := m.LoadActiveSession(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(BeNil())
		})

		It("succeeds when nothing is selected", func() {
			Expect(m.ClearActiveSession(tmpDir)).To(Succeed())
		})
	})
})
