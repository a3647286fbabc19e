package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/potionwatch/internal/simulator"
)

// Upstream starts an in-process upstream API backed by a simulated
// world and returns the server plus the world it serves. The world is
// the ground truth a test can assert loaded data against. The server
// is shut down when the test ends.
func Upstream(t *testing.T, cfg simulator.Config) (*httptest.Server, *simulator.World) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	world := simulator.Generate(cfg)
	srv := httptest.NewServer(simulator.NewServer(world, slog.New(slog.NewTextHandler(io.Discard, nil))).Router())
	t.Cleanup(srv.Close)
	return srv, world
}
