package recallcmder_test

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apisearch "github.com/papercomputeco/recall/api/search"
	recallcmder "github.com/papercomputeco/recall/cmd/recall"
	"github.com/papercomputeco/recall/cmd/recall/cmdutil"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/maintenance"
)

// offlineConfig keeps every provider in-process.
const offlineConfig = `[storage]
provider = "sqlite"

[vector_store]
provider = "chromem"

[embedding]
provider = "none"

[llm]
provider = "none"
`

var _ = Describe("NewRecallCmd", func() {
	It("registers the subcommands", func() {
		cmd := recallcmder.NewRecallCmd()
		names := []string{}
		for _, sub := range cmd.Commands() {
			names = append(names, sub.Name())
		}
		Expect(names).To(ContainElements(
			"serve", "search", "context", "session", "compress", "maintain", "enrich", "config", "init", "version",
		))
	})

	It("has the persistent flags", func() {
		cmd := recallcmder.NewRecallCmd()
		Expect(cmd.PersistentFlags().Lookup("debug")).NotTo(BeNil())
		Expect(cmd.PersistentFlags().Lookup("config-dir")).NotTo(BeNil())
	})
})

var _ = Describe("Recall against a local store", func() {
	var dir string

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		cmd := recallcmder.NewRecallCmd()
		cmd.SetOut(&out)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append(args, "--config-dir", dir))
		err := cmd.Execute()
		return out.String(), err
	}

	mustRun := func(args ...string) string {
		out, err := run(args...)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return out
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "recall-cmd-test-*")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(offlineConfig), 0o600)).To(Succeed())
	})

	It("creates a session, stores memories and assembles context", func() {
		out := mustRun("session", "new", "billing", "--project", "payments")
		Expect(out).To(ContainSubstring("Created session"))

		active, err := dotdir.NewManager().LoadActiveSession(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).NotTo(BeNil())
		Expect(active.Title).To(Equal("billing"))

		mustRun("session", "add", "user", "How do I rotate the API keys?")
		mustRun("session", "add", "assistant", "Use the admin console under security.")
		mustRun("session", "remember", "API keys rotate every 90 days")

		_, err = os.Stat(filepath.Join(dir, "recall.db"))
		Expect(err).NotTo(HaveOccurred())

		out = mustRun("context", "--query", "rotate keys", "--json")
		var ctxOut apisearch.ContextOutput
		Expect(json.Unmarshal([]byte(out), &ctxOut)).To(Succeed())
		Expect(ctxOut.SessionID).To(Equal(active.SessionID))
		Expect(ctxOut.Context).To(ContainSubstring("rotate the API keys"))
		Expect(ctxOut.Memories).NotTo(BeEmpty())

		out = mustRun("search", "rotate", "--min-relevance=-1", "--json")
		var searchOut apisearch.SearchOutput
		Expect(json.Unmarshal([]byte(out), &searchOut)).To(Succeed())
		Expect(searchOut.Results).NotTo(BeEmpty())
		for _, r := range searchOut.Results {
			Expect(strings.ToLower(r.Preview)).To(ContainSubstring("rotate"))
		}

		out = mustRun("session", "list")
		Expect(out).To(ContainSubstring(active.SessionID))

		out = mustRun("session", "show")
		Expect(out).To(ContainSubstring("billing"))
		Expect(out).To(ContainSubstring("payments"))
	})

	It("renames and deletes sessions", func() {
		mustRun("session", "new", "draft")
		active, err := dotdir.NewManager().LoadActiveSession(dir)
		Expect(err).NotTo(HaveOccurred())

		mustRun("session", "rename", active.SessionID, "final")
		active, err = dotdir.NewManager().LoadActiveSession(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(active.Title).To(Equal("final"))

		mustRun("session", "delete", active.SessionID)
		active, err = dotdir.NewManager().LoadActiveSession(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeNil())

		_, err = run("session", "show", "session_missing")
		Expect(err).To(MatchError(ContainSubstring("session not found")))
	})

	It("runs maintenance once", func() {
		mustRun("session", "new")
		mustRun("session", "remember", "a fresh memory")

		out := mustRun("maintain", "--json")
		var report maintenance.Report
		Expect(json.Unmarshal([]byte(out), &report)).To(Succeed())
		Expect(report.Deleted).To(BeZero())
	})

	It("runs enrichment without a model", func() {
		mustRun("session", "new")
		out := mustRun("session", "remember", "billing runs on postgres")
		id := regexp.MustCompile(`memory_\d+_[0-9a-f]+`).FindString(out)
		Expect(id).NotTo(BeEmpty())

		out = mustRun("enrich", "tags", id)
		Expect(out).To(ContainSubstring("No tags generated"))

		out = mustRun("enrich", "rescore", "--query", "billing")
		Expect(out).To(ContainSubstring("0 memories rescored"))

		_, err := run("enrich", "rescore")
		Expect(err).To(MatchError(ContainSubstring("--query is required")))

		_, err = run("enrich", "merge", id)
		Expect(err).To(HaveOccurred())
	})

	It("reports nothing to compress for a short session", func() {
		mustRun("session", "new")
		mustRun("session", "add", "user", "hello")

		out := mustRun("compress")
		Expect(out).To(ContainSubstring("Nothing to compress"))
	})

	It("needs a session for context once the active session is cleared", func() {
		mustRun("session", "new")
		mustRun("session", "clear")

		_, err := run("context")
		Expect(err).To(MatchError(cmdutil.ErrNoSession))
	})

	It("rejects invalid message roles and memory types", func() {
		mustRun("session", "new")

		_, err := run("session", "add", "robot", "beep")
		Expect(err).To(MatchError(ContainSubstring("invalid role")))

		_, err = run("session", "remember", "x", "--type", "dream")
		Expect(err).To(MatchError(ContainSubstring("unknown memory type")))
	})

	It("fails to serve with an invalid maintenance schedule flag", func() {
		_, err := run("serve", "--maintenance-schedule", "every tuesday", "--listen", "127.0.0.1:0")
		Expect(err).To(MatchError(ContainSubstring("invalid maintenance schedule")))
	})
})
