package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
)

const session = "s-1"

// fakeCreator records CreateBlobsWithContent calls and assigns sequential ids
type fakeCreator struct {
	mu    sync.Mutex
	calls [][]models.BlobContent
	drop  map[string]bool
	err   error
	next  int
}

func (f *fakeCreator) CreateBlobsWithContent(ctx context.Context, sessionID string, contents []models.BlobContent) ([]models.BlobInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]models.BlobContent(nil), contents...))
	if f.err != nil {
		return nil, f.err
	}

	var out []models.BlobInfo
	for _, c := range contents {
		if f.drop[c.Name] {
			continue
		}
		f.next++
		out = append(out, models.BlobInfo{Name: c.Name, ID: fmt.Sprintf("id-%d", f.next), SessionID: sessionID})
	}
	return out, nil
}

func output(name string) []models.BlobInfo {
	return []models.BlobInfo{{Name: name, ID: name + "-id", SessionID: session}}
}

func resolvedPayload() *models.BlobInfo {
	return &models.BlobInfo{Name: "Payload", ID: "p1", SessionID: session}
}

func TestResolve_BatchesPendingDependencies(t *testing.T) {
	creator := &fakeCreator{}
	r := New(creator, logger.Nop(), Strict)

	const n = 5
	nodes := make([]models.TaskNode, n)
	for i := range nodes {
		nodes[i] = models.TaskNode{
			ExpectedOutputs: output(fmt.Sprintf("out-%d", i)),
			DataDependenciesContent: []models.BlobContent{
				{Name: fmt.Sprintf("dep-%d", i), Data: []byte{byte(i)}},
			},
			Payload: resolvedPayload(),
		}
	}

	resolved, err := r.Resolve(context.Background(), session, nodes)
	require.NoError(t, err)

	require.Len(t, creator.calls, 1, "one creation call for the whole batch")
	assert.Len(t, creator.calls[0], n)

	for i, node := range resolved {
		require.Len(t, node.DataDependencies, 1)
		assert.Equal(t, fmt.Sprintf("dep-%d", i), node.DataDependencies[0].Name)
		assert.NotEmpty(t, node.DataDependencies[0].ID)
		assert.Empty(t, node.DataDependenciesContent)
	}
}

func TestResolve_NothingPendingMakesNoCalls(t *testing.T) {
	creator := &fakeCreator{}
	r := New(creator, logger.Nop(), Strict)

	deps := []models.BlobInfo{{Name: "existing", ID: "e1", SessionID: session}}
	nodes := []models.TaskNode{{
		ExpectedOutputs:  output("Result"),
		DataDependencies: deps,
		Payload:          resolvedPayload(),
	}}

	resolved, err := r.Resolve(context.Background(), session, nodes)
	require.NoError(t, err)

	assert.Empty(t, creator.calls)
	assert.Equal(t, deps, resolved[0].DataDependencies)
	assert.Equal(t, "p1", resolved[0].Payload.ID)
}

func TestResolve_PendingPayloadsUseSeparateCall(t *testing.T) {
	creator := &fakeCreator{}
	r := New(creator, logger.Nop(), Strict)

	nodes := []models.TaskNode{
		{
			ExpectedOutputs:         output("a"),
			DataDependenciesContent: []models.BlobContent{{Name: "shared", Data: []byte("x")}},
			PayloadContent:          &models.BlobContent{Name: "payload-a", Data: []byte("pa")},
		},
		{
			ExpectedOutputs: output("b"),
			PayloadContent:  &models.BlobContent{Name: "payload-b", Data: []byte("pb")},
		},
	}

	resolved, err := r.Resolve(context.Background(), session, nodes)
	require.NoError(t, err)

	require.Len(t, creator.calls, 2)
	assert.Equal(t, "shared", creator.calls[0][0].Name)
	assert.Len(t, creator.calls[1], 2)

	assert.Equal(t, "payload-a", resolved[0].Payload.Name)
	assert.NotEmpty(t, resolved[0].Payload.ID)
	assert.Nil(t, resolved[0].PayloadContent)
	assert.Equal(t, "payload-b", resolved[1].Payload.Name)
	assert.NotEqual(t, resolved[0].Payload.ID, resolved[1].Payload.ID)
}

func TestResolve_UnnamedPayloadGetsGeneratedName(t *testing.T) {
	creator := &fakeCreator{}
	r := New(creator, logger.Nop(), Strict)

	resolved, err := r.Resolve(context.Background(), session, []models.TaskNode{{
		ExpectedOutputs: output("a"),
		PayloadContent:  &models.BlobContent{Data: []byte("anonymous")},
	}})
	require.NoError(t, err)

	require.NotNil(t, resolved[0].Payload)
	assert.NotEmpty(t, resolved[0].Payload.Name)
	assert.NotEmpty(t, resolved[0].Payload.ID)
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	r := New(&fakeCreator{}, logger.Nop(), Strict)

	existing := make([]models.BlobInfo, 1, 4) // spare capacity would expose aliasing
	existing[0] = models.BlobInfo{Name: "e", ID: "e1"}
	nodes := []models.TaskNode{{
		ExpectedOutputs:         output("a"),
		DataDependencies:        existing,
		DataDependenciesContent: []models.BlobContent{{Name: "new", Data: []byte("n")}},
		PayloadContent:          &models.BlobContent{Name: "pl", Data: []byte("p")},
	}}

	resolved, err := r.Resolve(context.Background(), session, nodes)
	require.NoError(t, err)

	assert.Len(t, resolved[0].DataDependencies, 2)
	assert.Len(t, nodes[0].DataDependencies, 1)
	assert.Equal(t, models.BlobInfo{}, existing[:2][1], "caller backing array untouched")
	assert.Len(t, nodes[0].DataDependenciesContent, 1)
	assert.Nil(t, nodes[0].Payload)
	assert.NotNil(t, nodes[0].PayloadContent)
}

func TestResolve_DuplicateNames(t *testing.T) {
	creator := &fakeCreator{}
	r := New(creator, logger.Nop(), Strict)

	same := []models.TaskNode{
		{ExpectedOutputs: output("a"), Payload: resolvedPayload(), DataDependenciesContent: []models.BlobContent{{Name: "d", Data: []byte("1")}}},
		{ExpectedOutputs: output("b"), Payload: resolvedPayload(), DataDependenciesContent: []models.BlobContent{{Name: "d", Data: []byte("1")}}},
	}
	resolved, err := r.Resolve(context.Background(), session, same)
	require.NoError(t, err)
	require.Len(t, creator.calls, 1)
	assert.Len(t, creator.calls[0], 1, "identical content is created once")
	assert.Equal(t, resolved[0].DataDependencies[0].ID, resolved[1].DataDependencies[0].ID)

	conflicting := []models.TaskNode{
		{ExpectedOutputs: output("a"), Payload: resolvedPayload(), DataDependenciesContent: []models.BlobContent{{Name: "d", Data: []byte("1")}}},
		{ExpectedOutputs: output("b"), Payload: resolvedPayload(), DataDependenciesContent: []models.BlobContent{{Name: "d", Data: []byte("2")}}},
	}
	_, err = r.Resolve(context.Background(), session, conflicting)
	assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument)
	assert.Len(t, creator.calls, 1, "no creation for a conflicting batch")
}

func TestResolve_StrictFailsOnUnresolvedName(t *testing.T) {
	creator := &fakeCreator{drop: map[string]bool{"lost": true}}
	r := New(creator, logger.Nop(), Strict)

	_, err := r.Resolve(context.Background(), session, []models.TaskNode{{
		ExpectedOutputs: output("a"),
		Payload:         resolvedPayload(),
		DataDependenciesContent: []models.BlobContent{
			{Name: "kept", Data: []byte("k")},
			{Name: "lost", Data: []byte("l")},
		},
	}})
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)
	assert.Contains(t, err.Error(), `"lost"`)
}

func TestResolve_LenientDropsUnresolvedDependency(t *testing.T) {
	creator := &fakeCreator{drop: map[string]bool{"lost": true}}
	r := New(creator, logger.Nop(), Lenient)

	res, err := r.ResolveDetailed(context.Background(), session, []models.TaskNode{{
		ExpectedOutputs: output("a"),
		Payload:         resolvedPayload(),
		DataDependenciesContent: []models.BlobContent{
			{Name: "kept", Data: []byte("k")},
			{Name: "lost", Data: []byte("l")},
		},
	}})
	require.NoError(t, err)

	require.Len(t, res.Nodes[0].DataDependencies, 1)
	assert.Equal(t, "kept", res.Nodes[0].DataDependencies[0].Name)

	require.Len(t, res.Resolutions, 2)
	assert.NoError(t, res.Resolutions[0].Err)
	assert.ErrorIs(t, res.Resolutions[1].Err, taskerrors.ErrUnresolvedReference)
}

func TestResolve_LenientStillFailsOnUnresolvedPayload(t *testing.T) {
	creator := &fakeCreator{drop: map[string]bool{"pl": true}}
	r := New(creator, logger.Nop(), Lenient)

	_, err := r.Resolve(context.Background(), session, []models.TaskNode{{
		ExpectedOutputs: output("a"),
		PayloadContent:  &models.BlobContent{Name: "pl", Data: []byte("p")},
	}})
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)
}

func TestResolve_Errors(t *testing.T) {
	boom := errors.New("creation failed")
	r := New(&fakeCreator{err: boom}, logger.Nop(), Strict)

	_, err := r.Resolve(context.Background(), session, []models.TaskNode{{
		ExpectedOutputs:         output("a"),
		Payload:                 resolvedPayload(),
		DataDependenciesContent: []models.BlobContent{{Name: "d", Data: []byte("1")}},
	}})
	assert.ErrorIs(t, err, boom)

	_, err = r.Resolve(context.Background(), "", nil)
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)

	_, err = r.Resolve(context.Background(), session, []models.TaskNode{{ExpectedOutputs: output("a")}})
	assert.ErrorIs(t, err, taskerrors.ErrInvalidArgument, "no payload at all")
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("LENIENT")
	require.NoError(t, err)
	assert.Equal(t, Lenient, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Strict, m)

	_, err = ParseMode("maybe")
	assert.ErrorIs(t, err, taskerrors.ErrInvalidConfiguration)
}
