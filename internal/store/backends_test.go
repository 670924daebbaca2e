package store

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rcliao/ecoagent-memory/internal/memory"
	"github.com/rcliao/ecoagent-memory/internal/model"
	"github.com/rcliao/ecoagent-memory/internal/operation"
	"github.com/rcliao/ecoagent-memory/internal/operation/operationtest"
	"github.com/rcliao/ecoagent-memory/internal/session"
	"github.com/rcliao/ecoagent-memory/internal/session/sessiontest"
)

func TestSessionService(t *testing.T) {
	sessiontest.Run(t, func(now func() time.Time) session.Service {
		return openTestStore(t, filepath.Join(t.TempDir(), "sessions.db"), now).Sessions()
	})
}

func TestOperationStore(t *testing.T) {
	operationtest.Run(t, func(t *testing.T) operation.Store {
		return newTestStore(t).Operations()
	})
}

// blob carries every number shape a caller can hand in.
func blob() map[string]any {
	return map[string]any{
		"count":  3,
		"id":     int64(9007199254740993),
		"kg":     42.0,
		"ratio":  0.25,
		"modes":  []string{"bus", "bike"},
		"nested": map[string]any{"n": uint8(7), "ok": true},
	}
}

func TestBlobsMatchInMemoryBackends(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return testNow }
	durable := newTestStore(t)

	banks := map[string]memory.Bank{
		"memory": memory.NewInMemoryBank(memory.Config{Now: now}, nil),
		"sqlite": durable.Memories(),
	}
	mems := map[string]*model.Memory{}
	for name, b := range banks {
		m, err := b.Add(ctx, "alex", memory.AddParams{Content: "takes the bus", Context: blob(), Metadata: blob()})
		if err != nil {
			t.Fatalf("%s add: %v", name, err)
		}
		got, err := b.Retrieve(ctx, m.ID)
		if err != nil {
			t.Fatalf("%s retrieve: %v", name, err)
		}
		mems[name] = got
	}
	if !reflect.DeepEqual(mems["memory"].Context, mems["sqlite"].Context) {
		t.Errorf("memory context differs:\nmemory %#v\nsqlite %#v", mems["memory"].Context, mems["sqlite"].Context)
	}
	if !reflect.DeepEqual(mems["memory"].Metadata, mems["sqlite"].Metadata) {
		t.Errorf("memory metadata differs:\nmemory %#v\nsqlite %#v", mems["memory"].Metadata, mems["sqlite"].Metadata)
	}
	if id := mems["sqlite"].Context["id"]; id != int64(9007199254740993) {
		t.Errorf("large integer lost precision: %#v", id)
	}

	services := map[string]session.Service{
		"memory": session.NewInMemoryService(session.Config{Now: now}, nil),
		"sqlite": durable.Sessions(),
	}
	sessions := map[string]*model.Session{}
	for name, svc := range services {
		s, err := svc.Create(ctx, "alex", 3600, blob())
		if err != nil {
			t.Fatalf("%s create: %v", name, err)
		}
		if _, err := svc.AddMessage(ctx, s.ID, model.Message{Role: "user", Content: "hi", Metadata: blob()}); err != nil {
			t.Fatalf("%s add message: %v", name, err)
		}
		got, err := svc.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("%s get: %v", name, err)
		}
		sessions[name] = got
	}
	if !reflect.DeepEqual(sessions["memory"].Metadata, sessions["sqlite"].Metadata) {
		t.Errorf("session metadata differs:\nmemory %#v\nsqlite %#v", sessions["memory"].Metadata, sessions["sqlite"].Metadata)
	}
	if len(sessions["sqlite"].Messages) != 1 || !reflect.DeepEqual(sessions["memory"].Messages[0].Metadata, sessions["sqlite"].Messages[0].Metadata) {
		t.Errorf("message metadata differs: %#v", sessions["sqlite"].Messages)
	}
}
