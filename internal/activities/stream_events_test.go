package activities

import (
	"testing"

	"github.com/google/uuid"
	"go.temporal.io/sdk/testsuite"

	"github.com/humboldt-lab/humboldt/internal/streaming"
)

func TestEmitResearchEventPublishes(t *testing.T) {
	workflowID := "research-" + uuid.NewString()
	ch := streaming.Get().Subscribe(workflowID, 8)
	defer streaming.Get().Unsubscribe(workflowID, ch)

	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(EmitResearchEvent)

	in := EmitResearchEventInput{
		WorkflowID: workflowID,
		Event:      streaming.NewRoundStarted(workflowID, 1, 25, "refined query"),
	}
	if _, err := env.ExecuteActivity(EmitResearchEvent, in); err != nil {
		t.Fatalf("EmitResearchEvent: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Kind != streaming.KindRoundStarted {
			t.Errorf("kind = %s, want round_started", ev.Kind)
		}
		if ev.Seq == 0 {
			t.Error("publish must assign a sequence number")
		}
		if ev.RoundStarted == nil || ev.RoundStarted.Round != 1 {
			t.Error("round payload missing")
		}
	default:
		t.Fatal("event not delivered to subscriber")
	}
}
