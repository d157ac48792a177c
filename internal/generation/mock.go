package generation

import (
	"context"
	"encoding/json"
	"hash/fnv"
)

// MockBackend returns deterministic, safe story fragments for local runs.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) Name() string { return "mock" }

var mockScenes = []Result{
	{
		SceneText:     "A friendly breeze carries the sound of laughter from over the hill. A bright path of stepping stones sparkles in the sunshine, inviting you forward.",
		Choices:       []string{"Follow the sparkling stones", "Wave hello to the laughing voices", "Draw a map of the hill"},
		SummaryUpdate: "The hero follows a sparkling path toward happy laughter.",
	},
	{
		SceneText:     "A curious little owl lands beside you and tilts its head. It hoots softly and points a wing toward a glowing doorway in an old oak tree.",
		Choices:       []string{"Peek through the glowing doorway", "Ask the owl its name", "Share a snack with the owl"},
		SummaryUpdate: "The hero meets a curious owl who shows them a glowing doorway.",
	},
	{
		SceneText:     "You discover a garden where the flowers hum gentle songs. A helpful robot gardener smiles and offers you a watering can.",
		Choices:       []string{"Help water the singing flowers", "Learn the flowers' song", "Ask the robot about the garden"},
		SummaryUpdate: "The hero helps a robot gardener in a garden of singing flowers.",
	},
}

func (b *MockBackend) pick(req Request) Result {
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Prompt))
	scene := mockScenes[int(h.Sum32()%uint32(len(mockScenes)))]
	scene.Choices = append([]string(nil), scene.Choices...)
	return scene
}

func (b *MockBackend) Generate(ctx context.Context, req Request) (Result, error) {
	return b.GenerateStream(ctx, req, nil)
}

func (b *MockBackend) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	raw, err := json.Marshal(b.pick(req))
	if err != nil {
		return Result{}, err
	}
	acc := &streamAccumulator{onDelta: onDelta}
	if err := acc.add(string(raw)); err != nil {
		return Result{}, err
	}
	return acc.result()
}
