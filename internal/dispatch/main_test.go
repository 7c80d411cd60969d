package dispatch

import (
	"os"
	"testing"

	"agent-platform/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.Config{OutputPaths: []string{"discard"}}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
