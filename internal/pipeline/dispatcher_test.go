package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
	"github.com/brandseal/brandseal/internal/worklist"
)

type fakeBlobStore struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakeBlobStore) Put(_ context.Context, key string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, body)
	return nil
}

type fakeRunner struct {
	names  []string
	inputs []ExecutionInput
	err    error
}

func (f *fakeRunner) Start(_ context.Context, name string, input ExecutionInput) error {
	if f.err != nil {
		return f.err
	}
	f.names = append(f.names, name)
	f.inputs = append(f.inputs, input)
	return nil
}

func testJob() JobInput {
	return JobInput{
		ShopID:      "shop-1",
		OperationID: "op-1",
		Watermark:   shopdomain.WatermarkConfig{OpacityPercent: 40, Position: "bottom-right", ScalePercent: 20},
		Items: []worklist.Item{
			{MediaURL: "https://cdn.example/1.jpg", ParentID: "gid://commerce/Product/1", MediaID: "m1"},
		},
	}
}

func TestDispatch_StagesDocumentAndStartsExecution(t *testing.T) {
	blobs := &fakeBlobStore{}
	runner := &fakeRunner{}
	d := NewDispatcher(blobs, runner, nil, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), testJob()))

	require.Len(t, blobs.keys, 1)
	assert.Equal(t, "shop-1/input/op-1.json", blobs.keys[0])
	require.Len(t, runner.names, 1)
	assert.Equal(t, "shop-1-op-1", runner.names[0])

	job := testJob()
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, ExecutionInput{
		ShopID:       "shop-1",
		OperationID:  "op-1",
		PlannedCount: 1,
		Watermark:    job.Watermark,
		InputKey:     blobs.keys[0],
	}, runner.inputs[0])

	var staged JobInput
	require.NoError(t, json.Unmarshal(blobs.bodies[0], &staged))
	assert.Equal(t, job, staged)
}

func TestDispatch_DuplicateExecutionIsSuccess(t *testing.T) {
	blobs := &fakeBlobStore{}
	runner := &fakeRunner{err: ErrAlreadyStarted}
	d := NewDispatcher(blobs, runner, nil, zap.NewNop())

	assert.NoError(t, d.Dispatch(context.Background(), testJob()))
	assert.Len(t, blobs.keys, 1)
}

func TestDispatch_StageFailure(t *testing.T) {
	blobs := &fakeBlobStore{err: errors.New("bucket unavailable")}
	runner := &fakeRunner{}
	d := NewDispatcher(blobs, runner, nil, zap.NewNop())

	err := d.Dispatch(context.Background(), testJob())
	require.Error(t, err)
	assert.Empty(t, runner.names)
}

func TestDispatch_StartFailure(t *testing.T) {
	blobs := &fakeBlobStore{}
	runner := &fakeRunner{err: errors.New("throttled")}
	d := NewDispatcher(blobs, runner, nil, zap.NewNop())

	assert.Error(t, d.Dispatch(context.Background(), testJob()))
}
