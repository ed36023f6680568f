package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/blesdk/internal/testutils"
	"github.com/srg/blesdk/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "00:00:00:00:00:01"
	TestDeviceAddress2 = "00:00:00:00:00:02"
)

const grantAllConfig = `
log_level: error
platform_level: 31
permissions: [BLUETOOTH_SCAN, BLUETOOTH_CONNECT, ACCESS_FINE_LOCATION, ACCESS_COARSE_LOCATION]
`

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// commandRun is a command executing in the background
type commandRun struct {
	out  *syncBuffer
	done chan error
}

// CommandTestSuite runs commands against a fake radio.
// All cmd/blesdk test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	radio        *testutils.FakeRadio
	observer     *testutils.FakeStateObserver
	noObserver   bool
	configPath   string
	openedWith   *config.Config
	originalOpen func(*config.Config, *logrus.Logger) (*platform, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalOpen = openPlatform
}

func (s *CommandTestSuite) TearDownSuite() {
	openPlatform = s.originalOpen
}

func (s *CommandTestSuite) SetupTest() {
	s.radio = testutils.NewFakeRadio()
	s.observer = &testutils.FakeStateObserver{}
	s.noObserver = false
	s.openedWith = nil
	s.WriteConfig(grantAllConfig)

	openPlatform = func(cfg *config.Config, _ *logrus.Logger) (*platform, error) {
		s.openedWith = cfg
		p := &platform{radio: s.radio, close: func() error { return nil }}
		if !s.noObserver {
			p.observer = s.observer
		}
		return p, nil
	}
}

// WriteConfig replaces the config file passed to every command
func (s *CommandTestSuite) WriteConfig(content string) {
	s.configPath = filepath.Join(s.T().TempDir(), "blesdk.yaml")
	s.Require().NoError(os.WriteFile(s.configPath, []byte(content), 0o600))
}

// Start runs the command tree with args in the background
func (s *CommandTestSuite) Start(ctx context.Context, args ...string) *commandRun {
	root := newRootCmd()
	out := &syncBuffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(append(args, "--config", s.configPath))

	r := &commandRun{out: out, done: make(chan error, 1)}
	go func() { r.done <- root.ExecuteContext(ctx) }()
	return r
}

// Wait returns the command's output and error
func (s *CommandTestSuite) Wait(r *commandRun) (string, error) {
	select {
	case err := <-r.done:
		return r.out.String(), err
	case <-time.After(5 * time.Second):
		s.FailNow("command MUST finish", "output so far: %s", r.out.String())
		return "", nil
	}
}

// ExecuteCommand runs the command tree with args to completion
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.Wait(s.Start(context.Background(), args...))
}
