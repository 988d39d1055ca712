package kernel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClient_EchoResponder(t *testing.T) {
	m := NewMockClient("k").WithResponder(EchoResponder)
	ctx := testCtx(t)

	id, err := m.Execute(ctx, ExecuteRequest{Code: "1+1"})
	require.NoError(t, err)

	var types []MsgType
	for range 4 {
		msg, err := m.Receive(ctx, ChannelIOPub)
		require.NoError(t, err)
		assert.Equal(t, id, msg.CorrelationID())
		types = append(types, msg.Type())
	}
	assert.Equal(t, []MsgType{MsgStatus, MsgExecuteInput, MsgExecuteResult, MsgStatus}, types)

	reply, err := m.Receive(ctx, ChannelShell)
	require.NoError(t, err)
	assert.Equal(t, MsgExecuteReply, reply.Type())

	require.Len(t, m.Executed(), 1)
	assert.Equal(t, "1+1", m.Executed()[0].Code)
}

func TestMockClient_ShutdownClosesChannels(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockClient("k").WithShutdownError(boom)

	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, m.ShutdownCalls())

	_, err = m.Receive(context.Background(), ChannelIOPub)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockProvisioner(t *testing.T) {
	p := NewMockProvisioner()
	c1, err := p.Start(context.Background())
	require.NoError(t, err)
	c2, err := p.Start(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, c1.ID(), c2.ID())
	assert.Equal(t, 2, p.Starts())

	boom := errors.New("no kernels today")
	_, err = NewMockProvisioner().WithStartError(boom).Start(context.Background())
	assert.ErrorIs(t, err, boom)
}
