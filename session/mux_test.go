package session

import (
	"context"
	"errors"
	"testing"

	"github.com/guseggert/wsexec/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplexer(t *testing.T) {
	queue := make(chan Frame, 8)
	m := &multiplexer{ctx: context.Background(), queue: queue}

	require.NoError(t, m.forward(runner.OutputLine{Origin: runner.Stdout, Text: "out"}))
	require.NoError(t, m.forward(runner.OutputLine{Origin: runner.Stderr, Text: "err"}))
	require.NoError(t, m.fail(errors.New("boom")))
	require.NoError(t, m.finish())
	close(queue)

	var got []Frame
	for f := range queue {
		got = append(got, f)
	}
	assert.Equal(t, []Frame{"out", "ERR: err", "ERR: boom", Sentinel}, got)
}

func TestMultiplexerCanceledWhileFull(t *testing.T) {
	queue := make(chan Frame, 1)
	ctx, cancel := context.WithCancel(context.Background())
	m := &multiplexer{ctx: ctx, queue: queue}

	require.NoError(t, m.forward(runner.OutputLine{Text: "fills the queue"}))

	errCh := make(chan error, 1)
	go func() { errCh <- m.finish() }()
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Len(t, queue, 1)
}
