//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ExampleSuite struct {
	suite.Suite
	repoRoot string
}

func (s *ExampleSuite) SetupSuite() {
	if os.Getenv("UCXGO_TEST_EXAMPLES") == "" {
		s.T().Skip("set UCXGO_TEST_EXAMPLES=1 to run example integration tests")
	}
	root, err := detectRepoRoot()
	require.NoError(s.T(), err, "locate repository root")
	s.repoRoot = root
}

func (s *ExampleSuite) TestFlushRMA() {
	out := s.runExample("examples/flush_rma", nil)
	s.Contains(out, "flush released key and region")
}

func (s *ExampleSuite) TestTagPingPong() {
	out := s.runExample("examples/tag_pingpong", []string{"UCXGO_EXAMPLE_ROUNDS=20"})
	s.Contains(out, "20 round trips")
	s.Contains(out, "ucx_progress_request_completed_total")
}

func (s *ExampleSuite) TestTagPingPongWakeup() {
	out := s.runExample("examples/tag_pingpong", []string{
		"UCXGO_EXAMPLE_ROUNDS=5",
		"UCXGO_CONTEXT_FEATURES=tag,wakeup",
		"UCXGO_PROGRESS_WAKEUP=true",
	})
	s.Contains(out, "5 round trips")
}

func (s *ExampleSuite) TestWakeup() {
	out := s.runExample("examples/wakeup", nil)
	s.Contains(out, "received 5 messages")
}

func (s *ExampleSuite) runExample(relPath string, extraEnv []string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./"+relPath)
	env := append(os.Environ(), "UCXGO_LOG_LEVEL=warn")
	if len(extraEnv) > 0 {
		env = append(env, extraEnv...)
	}
	cmd.Env = env
	cmd.Dir = s.repoRoot

	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		s.FailNowf("example timeout", "example %s timed out:\n%s", relPath, string(output))
	}
	require.NoErrorf(s.T(), err, "example %s failed:\n%s", relPath, string(output))
	return string(output)
}

func detectRepoRoot() (string, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			return root, nil
		}
		next := filepath.Dir(root)
		if next == root {
			return "", fmt.Errorf("could not locate repository root containing go.mod")
		}
		root = next
	}
}

func TestExamples(t *testing.T) {
	suite.Run(t, new(ExampleSuite))
}
