package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"github.com/jeajq/jobtracker/domain"
)

func TestCommitBatchRejectsOversizedBatch(t *testing.T) {
	writes := make([]domain.FieldWrite, MaxBatchWrites+1)
	for i := range writes {
		pos := i
		writes[i] = domain.FieldWrite{ID: fmt.Sprintf("j%d", i), Position: &pos}
	}
	err := (&Tables{}).CommitBatch(context.Background(), "u1", 1, writes)
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestJobEntityRoundTrip(t *testing.T) {
	job := domain.Job{
		ID:            "j1",
		OwnerID:       "u1",
		Title:         "Backend Engineer",
		Company:       "Acme",
		Status:        domain.StatusInterview,
		Position:      3,
		LinkedSavedID: "s1",
		Version:       1712345678901234567,
	}
	payload, err := sonic.Marshal(toJobEntity(job))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(payload)
	for _, want := range []string{`"PartitionKey":"u1"`, `"RowKey":"j1"`, `"Version":"1712345678901234567"`, `"Version@odata.type":"Edm.Int64"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}
	var ent jobEntity
	if err := sonic.Unmarshal(payload, &ent); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := ent.job(); got != job {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestJobUpdateCarriesOnlySetFields(t *testing.T) {
	pos := 0
	st := domain.StatusOffer
	payload, err := sonic.Marshal(toJobUpdate("u1", 9, domain.FieldWrite{ID: "j1", Position: &pos, Status: &st}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(payload)
	if !strings.Contains(body, `"Position":0`) || !strings.Contains(body, `"Status":"offer"`) {
		t.Fatalf("missing fields in %s", body)
	}
	if strings.Contains(body, "Note") {
		t.Fatalf("unset note written: %s", body)
	}
}

func TestDeleteActionTargetsJobRow(t *testing.T) {
	action, err := deleteAction("u1", "j1")
	if err != nil {
		t.Fatalf("delete action: %v", err)
	}
	if action.ActionType != aztables.TransactionTypeDelete {
		t.Fatalf("unexpected action type %s", action.ActionType)
	}
	if action.IfMatch == nil || *action.IfMatch != azcore.ETagAny {
		t.Fatalf("expected unconditional delete, got %v", action.IfMatch)
	}
	if body := string(action.Entity); body != `{"PartitionKey":"u1","RowKey":"j1"}` {
		t.Fatalf("unexpected entity %s", body)
	}
}

func TestQuoteEscapesSingleQuotes(t *testing.T) {
	if got := partitionFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter %s", got)
	}
}

func TestIsStatus(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &azcore.ResponseError{StatusCode: http.StatusConflict})
	if !isStatus(err, http.StatusConflict) {
		t.Fatal("expected conflict to match")
	}
	if isStatus(err, http.StatusNotFound) || isStatus(nil, http.StatusNotFound) {
		t.Fatal("unexpected match")
	}
	if !alreadyExists(&azcore.ResponseError{ErrorCode: "QueueAlreadyExists"}, "QueueAlreadyExists") {
		t.Fatal("expected already exists to match")
	}
}
