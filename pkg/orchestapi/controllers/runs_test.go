package controllers

import (
	"encoding/json"
	"testing"
)

func TestPipelineDefinition_ReferencedEnvironments(t *testing.T) {
	def := PipelineDefinition{
		Steps: []PipelineStep{
			{UUID: "s1", Environment: "env-a"},
			{UUID: "s2", Environment: "env-b"},
			{UUID: "s3", Environment: "env-a"},
		},
		Services: []PipelineService{
			{Image: "environment@env-c"},
			{Image: "some/other:image"},
		},
	}
	got := def.ReferencedEnvironments()
	want := []string{"env-a", "env-b", "env-c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestPipelineDefinition_WithParameters(t *testing.T) {
	def := PipelineDefinition{
		Steps: []PipelineStep{
			{UUID: "s1", Environment: "env-a"},
			{UUID: "s2", Environment: "env-b", Parameters: json.RawMessage(`{"existing":true}`)},
		},
	}

	t.Run("empty run parameters is a no-op", func(t *testing.T) {
		got, err := def.WithParameters(nil)
		if err != nil {
			t.Fatalf("WithParameters: %v", err)
		}
		if string(got.Steps[1].Parameters) != `{"existing":true}` {
			t.Fatalf("expected unchanged parameters, got %s", got.Steps[1].Parameters)
		}
	})

	t.Run("stamps parameters onto matching steps only", func(t *testing.T) {
		runParams := json.RawMessage(`{"s1":{"foo":1}}`)
		got, err := def.WithParameters(runParams)
		if err != nil {
			t.Fatalf("WithParameters: %v", err)
		}
		if string(got.Steps[0].Parameters) != `{"foo":1}` {
			t.Fatalf("expected s1 parameters stamped, got %s", got.Steps[0].Parameters)
		}
		if string(got.Steps[1].Parameters) != `{"existing":true}` {
			t.Fatalf("expected s2 parameters untouched, got %s", got.Steps[1].Parameters)
		}
		if string(def.Steps[0].Parameters) != "" {
			t.Fatalf("expected original definition untouched, got %s", def.Steps[0].Parameters)
		}
	})

	t.Run("invalid run parameters is an error", func(t *testing.T) {
		if _, err := def.WithParameters(json.RawMessage(`not json`)); err == nil {
			t.Fatal("expected an error for invalid run parameters")
		}
	})
}

func TestDedupeRequests(t *testing.T) {
	reqs := []EnvironmentBuildRequest{
		{ProjectUUID: "p1", EnvironmentUUID: "e1", ProjectPath: "/a"},
		{ProjectUUID: "p1", EnvironmentUUID: "e1", ProjectPath: "/a"},
		{ProjectUUID: "p1", EnvironmentUUID: "e2", ProjectPath: "/a"},
	}
	unique := dedupeRequests(reqs)
	if len(unique) != 2 {
		t.Fatalf("expected 2 unique requests, got %d", len(unique))
	}
}
