package slogpretty

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestPrettyHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	opts := PrettyHandlerOptions{SlogOpts: &slog.HandlerOptions{Level: slog.LevelInfo}}
	log := slog.New(opts.NewPrettyHandler(&buf)).With(slog.String("op", "test"))

	log.Debug("hidden")
	log.Info("peer added", slog.String("peer", "10.0.0.1#1"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO:")
	assert.Contains(t, out, "peer added")
	assert.Contains(t, out, `"op": "test"`)
	assert.Contains(t, out, `"peer": "10.0.0.1#1"`)
}
