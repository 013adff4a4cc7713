package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/quota-ledger/audit"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
)

func run(t *testing.T, p *Pipeline, line string) Result {
	t.Helper()
	return p.HandleCommand(context.Background(), line)
}

func TestCommandSession(t *testing.T) {
	p := newPipeline(t, nil)

	res := run(t, p, "add_node A 4 8")
	require.True(t, res.Success, res.Message)
	data := res.Data.(map[string]any)
	assert.NotEmpty(t, data["token"])
	a, _ := p.Node("A")
	assert.Equal(t, 4.0, a.Quota[allocation.CPU])
	assert.Equal(t, 0.0, a.Quota[allocation.Bandwidth], "missing quotas default to zero")

	res = run(t, p, "request_resource A cpu 2")
	require.True(t, res.Success, res.Message)
	data = res.Data.(map[string]any)
	assert.Equal(t, 1, data["block_index"])
	node := data["node_status"].(allocation.Node)
	assert.Equal(t, 2.0, node.Allocated[allocation.CPU])

	res = run(t, p, "request_resource A CPU 5")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Rejected")

	res = run(t, p, "release_resource A CPU 2")
	require.True(t, res.Success, res.Message)

	res = run(t, p, "view_chain")
	require.True(t, res.Success)
	assert.Len(t, res.Data.(map[string]any)["chain"], 3)

	res = run(t, p, "validate_chain")
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data.(map[string]any)["valid"])

	res = run(t, p, "history A")
	require.True(t, res.Success)
	assert.Len(t, res.Data.(map[string]any)["records"], 2)

	res = run(t, p, "print_audit")
	require.True(t, res.Success)
	assert.Len(t, res.Data.(map[string]any)["events"].([]audit.Event), 5)

	res = run(t, p, "STATUS")
	require.True(t, res.Success)
	st := res.Data.(Status)
	assert.Equal(t, []string{"A"}, st.Nodes)
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 1, st.RequiredVotes)
}

func TestCommandErrors(t *testing.T) {
	p := newPipeline(t, nil)
	cases := []string{
		"",
		"frobnicate",
		"add_node",
		"add_node A x",
		"add_node A 1 2 3 4 5",
		"request_resource A CPU",
		"request_resource A CPU many",
		"request_resource ghost CPU 1",
		"release_resource A CPU NaN",
		"history",
		"history ghost",
	}
	for _, line := range cases {
		res := run(t, p, line)
		assert.False(t, res.Success, "command %q should fail", line)
		assert.NotEmpty(t, res.Message)
	}
}

func TestValidateChainCommandReportsIndex(t *testing.T) {
	p := newPipeline(t, nil)
	run(t, p, "add_node A 4")
	run(t, p, "request_resource A CPU 1")
	run(t, p, "request_resource A CPU 1")

	blocks := p.chain.Blocks()
	blocks[1].Transactions[0].Amount = 3
	tampered, err := ledger.Restore(blocks, p.chain.Difficulty(), nil)
	require.NoError(t, err)
	p.chain = tampered

	res := run(t, p, "validate_chain")
	require.True(t, res.Success)
	data := res.Data.(map[string]any)
	assert.Equal(t, false, data["valid"])
	assert.Equal(t, 1, data["failed_index"])

	// inspection still works on an invalid chain
	assert.True(t, run(t, p, "view_chain").Success)
}

func TestHelpCommand(t *testing.T) {
	p := newPipeline(t, nil)
	res := run(t, p, "help")
	assert.True(t, res.Success)
	for name := range commands {
		assert.Contains(t, res.Message, name)
	}
}
