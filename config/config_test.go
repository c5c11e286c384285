package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/transport"
	"github.com/geekxflood/snmpbulk/walk"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

// writeFile writes content to name inside a per-spec temporary directory.
func writeFile(name, content string) string {
	path := filepath.Join(GinkgoT().TempDir(), name)
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

const sampleYAML = `
logging:
  level: debug
  format: json
retrieval:
  max_columns_per_pdu: 4
  max_rows_per_pdu: 25
  max_repetitions: 50
  ignore_lex_order: true
target:
  address: ${SNMPBULK_TEST_AGENT:-192.0.2.1}
  community: $SNMPBULK_TEST_COMMUNITY
  version: "1"
  timeout: 2s
  retries: 3
  max_pdu_size: 1472
targets:
  - 192.0.2.2
  - 192.0.2.3:1161
transport:
  kind: gosnmp
  worker_pool:
    size: 8
metrics:
  enabled: true
`

var _ = Describe("NewManager", func() {
	It("resolves schema defaults without a file", func() {
		manager, err := NewManager(Options{})
		Expect(err).NotTo(HaveOccurred())
		defer manager.Close()

		settings := manager.Settings()
		Expect(settings.Logging.Level).To(Equal("info"))
		Expect(settings.Logging.Format).To(Equal("logfmt"))
		Expect(settings.Retrieval).To(Equal(RetrievalConfig{
			MaxColumnsPerPDU: walk.DefaultMaxColumnsPerPDU,
			MaxRowsPerPDU:    walk.DefaultMaxRowsPerPDU,
			MaxRepetitions:   walk.DefaultMaxRepetitions,
		}))
		Expect(settings.Target.Community).To(Equal("public"))
		Expect(settings.Target.Version).To(Equal("2c"))
		Expect(settings.Target.Timeout).To(Equal("5s"))
		Expect(settings.Targets).To(BeEmpty())
		Expect(settings.Transport.Kind).To(Equal(transport.KindUDP))
		Expect(settings.Transport.WorkerPool).To(Equal(WorkerPoolConfig{Enabled: true, Size: 4}))
		Expect(settings.Metrics.Enabled).To(BeFalse())
		Expect(settings.Metrics.Namespace).To(Equal("snmpbulk"))
		Expect(manager.Path()).To(BeEmpty())
	})

	It("loads YAML with environment variables expanded", func() {
		GinkgoT().Setenv("SNMPBULK_TEST_COMMUNITY", "s3cret")
		GinkgoT().Setenv("SNMPBULK_TEST_AGENT", "")

		manager, err := Load(writeFile("snmpbulk.yaml", sampleYAML))
		Expect(err).NotTo(HaveOccurred())

		settings := manager.Settings()
		Expect(settings.Logging.Level).To(Equal("debug"))
		Expect(settings.Logging.Output).To(Equal("stderr"))
		Expect(settings.Target.Address).To(Equal("192.0.2.1"))
		Expect(settings.Target.Community).To(Equal("s3cret"))
		Expect(settings.Targets).To(Equal([]string{"192.0.2.2", "192.0.2.3:1161"}))
		Expect(settings.Retrieval.MaxRowsPerPDU).To(Equal(25))
		Expect(settings.Retrieval.IgnoreLexicographicOrder).To(BeTrue())
		Expect(settings.Transport.Kind).To(Equal(transport.KindGoSNMP))
		Expect(settings.Transport.WorkerPool.Size).To(Equal(8))
		Expect(settings.Metrics.Enabled).To(BeTrue())
	})

	It("prefers a set environment variable over the inline default", func() {
		GinkgoT().Setenv("SNMPBULK_TEST_AGENT", "198.51.100.9")

		manager, err := Load(writeFile("snmpbulk.yml", sampleYAML))
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.Settings().Target.Address).To(Equal("198.51.100.9"))
	})

	It("loads JSON", func() {
		manager, err := Load(writeFile("snmpbulk.json", `{
			"retrieval": {"max_repetitions": 30, "dense": true},
			"target": {"address": "192.0.2.10", "retries": 0}
		}`))
		Expect(err).NotTo(HaveOccurred())

		settings := manager.Settings()
		Expect(settings.Retrieval.MaxRepetitions).To(Equal(30))
		Expect(settings.Retrieval.Dense).To(BeTrue())
		Expect(settings.Target.Retries).To(Equal(0))
		Expect(settings.Retrieval.MaxRowsPerPDU).To(Equal(walk.DefaultMaxRowsPerPDU))
	})

	DescribeTable("rejecting values outside the schema",
		func(content string) {
			_, err := Load(writeFile("bad.yaml", content))
			Expect(err).To(MatchError(ErrInvalid))
		},
		Entry("zero rows per request", "retrieval:\n  max_rows_per_pdu: 0\n"),
		Entry("negative repetitions", "retrieval:\n  max_repetitions: -1\n"),
		Entry("unknown top level key", "agents: []\n"),
		Entry("unknown nested key", "target:\n  port: 161\n"),
		Entry("SNMPv3", "target:\n  version: \"3\"\n"),
		Entry("malformed duration", "target:\n  timeout: soon\n"),
		Entry("PDU size below the minimum", "target:\n  max_pdu_size: 100\n"),
		Entry("unknown transport", "transport:\n  kind: tcp\n"),
		Entry("oversized worker pool", "transport:\n  worker_pool:\n    size: 5000\n"),
		Entry("bad metrics namespace", "metrics:\n  namespace: snmp-bulk\n"),
	)

	DescribeTable("rejecting unusable files",
		func(name, content, message string) {
			_, err := Load(writeFile(name, content))
			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("empty", "empty.yaml", "  \n", "is empty"),
		Entry("comments only", "comments.yaml", "# nothing\n  # here\n", "contains only comments"),
		Entry("unsupported extension", "snmpbulk.toml", "a = 1\n", "unsupported config file format"),
		Entry("malformed YAML", "broken.yaml", "target: [\n", "failed to parse"),
	)

	It("fails on a missing file", func() {
		_, err := Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	It("rejects a schema without #Config", func() {
		_, err := NewManager(Options{SchemaContent: "package config\nfoo: int\n"})
		Expect(err).To(MatchError(ContainSubstring("#Config")))
	})
})

var _ = Describe("Manager accessors", func() {
	var manager *Manager

	BeforeEach(func() {
		var err error
		manager, err = Load(writeFile("snmpbulk.yaml", sampleYAML))
		Expect(err).NotTo(HaveOccurred())
	})

	It("reads typed values by path", func() {
		Expect(manager.GetString("logging.format")).To(Equal("json"))
		Expect(manager.GetInt("retrieval.max_columns_per_pdu")).To(Equal(4))
		Expect(manager.GetBool("retrieval.ignore_lex_order")).To(BeTrue())
		Expect(manager.GetDuration("target.timeout")).To(Equal(2 * time.Second))
		Expect(manager.GetDuration("transport.read_timeout")).To(Equal(500 * time.Millisecond))
	})

	It("falls back to defaults only for missing paths", func() {
		Expect(manager.GetString("target.context", "none")).To(Equal("none"))
		Expect(manager.GetInt("retrieval.max_cells", 7)).To(Equal(7))
		Expect(manager.GetBool("metrics.tls", true)).To(BeTrue())
		Expect(manager.GetDuration("target.backoff", time.Second)).To(Equal(time.Second))

		_, err := manager.GetString("target.context")
		Expect(err).To(HaveOccurred())
	})

	It("reports type mismatches", func() {
		_, err := manager.GetInt("target.community")
		Expect(err).To(MatchError(ContainSubstring("not an integer")))
		_, err = manager.GetBool("target.retries", false)
		Expect(err).To(MatchError(ContainSubstring("not a boolean")))
		_, err = manager.GetString("target")
		Expect(err).To(MatchError(ContainSubstring("not a string")))
	})

	It("returns detached sections", func() {
		section, err := manager.GetMap("transport.worker_pool")
		Expect(err).NotTo(HaveOccurred())
		Expect(section).To(HaveKeyWithValue("enabled", true))

		section["enabled"] = false
		Expect(manager.GetBool("transport.worker_pool.enabled")).To(BeTrue())

		_, err = manager.GetMap("target.community")
		Expect(err).To(HaveOccurred())
	})

	It("checks existence", func() {
		Expect(manager.Exists("metrics.listen_address")).To(BeTrue())
		Expect(manager.Exists("target.address")).To(BeTrue())
		Expect(manager.Exists("target.address.host")).To(BeFalse())
		Expect(manager.Exists("nothing")).To(BeFalse())
	})

	It("returns settings the caller cannot alias", func() {
		settings := manager.Settings()
		settings.Targets[0] = "203.0.113.1"
		Expect(manager.Settings().Targets[0]).To(Equal("192.0.2.2"))
	})
})

var _ = Describe("Settings", func() {
	It("builds walk options", func() {
		retrieval := RetrievalConfig{MaxColumnsPerPDU: 3, MaxRowsPerPDU: 4, MaxRepetitions: 5, IgnoreLexicographicOrder: true}

		options := walk.DefaultOptions()
		for _, opt := range retrieval.Options() {
			opt(&options)
		}
		Expect(options.MaxColumnsPerPDU).To(Equal(3))
		Expect(options.MaxRowsPerPDU).To(Equal(4))
		Expect(options.MaxRepetitions).To(Equal(5))
		Expect(options.IgnoreLexicographicOrder).To(BeTrue())
	})

	It("builds targets", func() {
		manager, err := Load(writeFile("snmpbulk.yaml", sampleYAML))
		Expect(err).NotTo(HaveOccurred())
		settings := manager.Settings()

		target, err := settings.Target.Build("")
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Address).To(Equal("192.0.2.1"))
		Expect(target.Version).To(Equal(snmp.Version1))
		Expect(target.Timeout).To(Equal(2 * time.Second))
		Expect(target.Retries).To(Equal(3))
		Expect(target.MaxPDUSize).To(Equal(1472))

		target, err = settings.Target.Build("192.0.2.3:1161")
		Expect(err).NotTo(HaveOccurred())
		Expect(target.Address).To(Equal("192.0.2.3:1161"))
	})

	It("refuses to build a target without an address", func() {
		_, err := TargetConfig{Community: "public", Version: "2c", Timeout: "1s", MaxPDUSize: 1472}.Build("")
		Expect(err).To(MatchError(ContainSubstring("no target address")))
	})

	It("configures a transport", func() {
		manager, err := NewManager(Options{})
		Expect(err).NotTo(HaveOccurred())

		var cfg transport.Config = manager.Settings().Transport
		Expect(cfg.GetKind()).To(Equal(transport.KindUDP))
		Expect(cfg.GetBindAddress()).To(Equal(transport.DefaultBindAddress))
		Expect(cfg.GetBufferSize()).To(Equal(transport.DefaultBufferSize))
		Expect(cfg.GetReadTimeout()).To(Equal(transport.DefaultReadTimeout))
		Expect(cfg.GetWorkerPoolEnabled()).To(BeTrue())
		Expect(cfg.GetWorkerPoolSize()).To(Equal(transport.DefaultWorkerPoolSize))
	})
})

var _ = Describe("Hot reload", func() {
	It("applies valid edits and keeps the last good configuration", func() {
		path := writeFile("snmpbulk.yaml", "retrieval:\n  max_rows_per_pdu: 5\n")

		manager, err := NewManager(Options{ConfigPath: path, EnableHotReload: true})
		Expect(err).NotTo(HaveOccurred())
		defer manager.Close()

		changes := make(chan error, 16)
		manager.OnChange(func(err error) { changes <- err })

		Expect(os.WriteFile(path, []byte("retrieval:\n  max_rows_per_pdu: 40\n"), 0o600)).To(Succeed())
		Eventually(changes, 5*time.Second).Should(Receive(BeNil()))
		Expect(manager.Settings().Retrieval.MaxRowsPerPDU).To(Equal(40))

		Expect(os.WriteFile(path, []byte("retrieval:\n  max_rows_per_pdu: 0\n"), 0o600)).To(Succeed())
		Eventually(changes, 5*time.Second).Should(Receive(MatchError(ErrInvalid)))
		Expect(manager.Settings().Retrieval.MaxRowsPerPDU).To(Equal(40))
	})

	It("ignores other files in the directory", func() {
		path := writeFile("snmpbulk.yaml", "retrieval:\n  max_rows_per_pdu: 5\n")

		manager, err := NewManager(Options{ConfigPath: path, EnableHotReload: true})
		Expect(err).NotTo(HaveOccurred())
		defer manager.Close()

		changes := make(chan error, 16)
		manager.OnChange(func(err error) { changes <- err })

		sibling := filepath.Join(filepath.Dir(path), "other.yaml")
		Expect(os.WriteFile(sibling, []byte("x: 1\n"), 0o600)).To(Succeed())
		Consistently(changes, 400*time.Millisecond).ShouldNot(Receive())
	})

	It("requires a file and refuses a second watcher", func() {
		manager, err := NewManager(Options{})
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.StartHotReload(context.Background())).To(MatchError(ContainSubstring("requires a configuration file")))

		manager, err = NewManager(Options{ConfigPath: writeFile("snmpbulk.yaml", "targets: []\n"), EnableHotReload: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(manager.StartHotReload(context.Background())).To(MatchError(ContainSubstring("already started")))

		manager.StopHotReload()
		manager.StopHotReload()
		Expect(manager.Close()).To(Succeed())
	})

	It("reloads on demand", func() {
		path := writeFile("snmpbulk.json", `{"metrics": {"enabled": false}}`)
		manager, err := Load(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(os.WriteFile(path, []byte(`{"metrics": {"enabled": true}}`), 0o600)).To(Succeed())
		Expect(manager.Reload()).To(Succeed())
		Expect(manager.Settings().Metrics.Enabled).To(BeTrue())

		Expect(os.WriteFile(path, []byte(`{"metrics": {"enabled": "yes"}}`), 0o600)).To(Succeed())
		Expect(manager.Reload()).To(MatchError(ErrInvalid))
		Expect(manager.Settings().Metrics.Enabled).To(BeTrue())
	})

	It("serializes concurrent reloads with the file watcher", func() {
		path := writeFile("snmpbulk.yaml", "retrieval:\n  max_rows_per_pdu: 10\n")
		manager, err := NewManager(Options{ConfigPath: path, EnableHotReload: true})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(manager.Close)
		Expect(os.WriteFile(path, []byte("retrieval:\n  max_rows_per_pdu: 25\n"), 0o600)).To(Succeed())

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				for range 20 {
					Expect(manager.Reload()).To(Succeed())
				}
			}()
		}
		wg.Wait()

		Expect(manager.Reload()).To(Succeed())
		Expect(manager.Settings().Retrieval.MaxRowsPerPDU).To(Equal(25))
	})
})

var _ = Describe("ValidateFile", func() {
	It("accepts a valid file", func() {
		Expect(ValidateFile(writeFile("snmpbulk.yaml", sampleYAML))).To(Succeed())
	})

	It("rejects an invalid file", func() {
		Expect(ValidateFile(writeFile("snmpbulk.yaml", "target:\n  retries: -1\n"))).To(MatchError(ErrInvalid))
	})

	It("exposes the schema", func() {
		Expect(Schema()).To(ContainSubstring("#Config"))
	})
})

var _ = Describe("safeReadFile", func() {
	It("refuses directories and system paths", func() {
		_, err := safeReadFile(GinkgoT().TempDir())
		Expect(err).To(MatchError(ContainSubstring("regular file")))
		_, err = safeReadFile("/proc/self/status")
		Expect(err).To(MatchError(ContainSubstring("system path")))
		_, err = safeReadFile("")
		Expect(err).To(HaveOccurred())
	})
})
