package taskops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/crmkit/taskbridge/internal/auth/credential"
	"github.com/crmkit/taskbridge/internal/cache"
	"github.com/crmkit/taskbridge/internal/db/models"
	"github.com/crmkit/taskbridge/internal/remote"
)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	tasks     *cache.TaskStore
	listCalls *int32
}

// newFixture stands up a fake CRM and a service wired the way main does.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	var listCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pipelines/p1/tasks", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&listCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tasks":[
			{"id":"1","opportunityId":"opp-1","pipelineId":"p1","completed":false,"dueDate":"2024-03-01","assignedTo":"alice"},
			{"id":"2","opportunityId":"opp-2","pipelineId":"p1","completed":true}
		]}`)
	})
	mux.HandleFunc("PUT /tasks/", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]interface{}
		json.NewDecoder(r.Body).Decode(&patch)
		taskID := r.URL.Path[len("/tasks/"):]
		resp := map[string]interface{}{
			"id": taskID, "opportunityId": "opp-" + taskID, "pipelineId": "p1",
		}
		for k, v := range patch {
			resp[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"task": resp})
	})
	mux.HandleFunc("GET /opportunities/pipelines", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pipelines":[{"id":"p1","name":"Sales","locationId":"loc-1","stages":[{"id":"s1","name":"New","position":0}]}]}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Credential{}, &models.Opportunity{}, &models.Assignment{}, &models.AuditEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.Save(&models.Credential{
		ID:           models.CredentialID,
		AccessToken:  "live-token",
		RefreshToken: "live-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})

	creds := credential.NewManager(db, &oauth2.Config{
		Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/oauth/token", AuthStyle: oauth2.AuthStyleInParams},
	})
	crmClient := remote.NewClient(creds, server.URL, "2021-07-28", "loc-1")

	tasks := cache.NewTaskStore()
	pipelines := cache.NewPipelineStore()
	return &fixture{
		svc:       NewService(db, crmClient, tasks, pipelines),
		db:        db,
		tasks:     tasks,
		listCalls: &listCalls,
	}
}

func TestGetTasks_ServesFromCacheAfterFirstFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tasks, err := f.svc.GetTasks(ctx, "p1", StatusAll)
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	// Sorted for presentation: dated task first, undated last.
	if tasks[0].ID != "1" {
		t.Errorf("expected task 1 (dated) first, got %s", tasks[0].ID)
	}

	if _, err := f.svc.GetTasks(ctx, "p1", StatusAll); err != nil {
		t.Fatalf("second GetTasks failed: %v", err)
	}
	if *f.listCalls != 1 {
		t.Errorf("expected 1 remote fetch, got %d", *f.listCalls)
	}
}

func TestGetTasks_StatusFilterAppliedLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	completed, err := f.svc.GetTasks(ctx, "p1", StatusCompleted)
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "2" {
		t.Fatalf("expected only task 2, got %+v", completed)
	}

	incomplete, err := f.svc.GetTasks(ctx, "p1", StatusIncomplete)
	if err != nil {
		t.Fatalf("GetTasks failed: %v", err)
	}
	if len(incomplete) != 1 || incomplete[0].ID != "1" {
		t.Fatalf("expected only task 1, got %+v", incomplete)
	}
	if *f.listCalls != 1 {
		t.Errorf("filters must share one cached fetch, got %d", *f.listCalls)
	}
}

func TestUpdateTaskStatus_PatchesCacheAndAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	summary, err := f.svc.GetAnalytics(ctx, "p1")
	if err != nil {
		t.Fatalf("GetAnalytics failed: %v", err)
	}
	if summary.TotalTasks != 2 || summary.CompletedTasks != 1 || summary.CompletionRate != 50 {
		t.Fatalf("unexpected baseline summary: %+v", summary)
	}
	if summary.OldestIncompleteTaskDueDate != "2024-03-01" {
		t.Errorf("expected oldest due date 2024-03-01, got '%s'", summary.OldestIncompleteTaskDueDate)
	}

	if _, err := f.svc.UpdateTaskStatus(ctx, "1", true, "tester"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	summary, err = f.svc.GetAnalytics(ctx, "p1")
	if err != nil {
		t.Fatalf("GetAnalytics after update failed: %v", err)
	}
	if summary.CompletedTasks != 2 || summary.IncompleteTasks != 0 || summary.CompletionRate != 100 {
		t.Fatalf("expected fully completed summary, got %+v", summary)
	}
	if *f.listCalls != 1 {
		t.Errorf("status update must patch the cache, not refetch; got %d fetches", *f.listCalls)
	}
}

func TestUpdateTaskStatus_WritesAuditEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetTasks(ctx, "p1", StatusAll); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := f.svc.UpdateTaskStatus(ctx, "1", true, "tester"); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	var events []models.AuditEvent
	f.db.Where("task_id = ?", "1").Find(&events)
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	evt := events[0]
	if evt.Action != models.AuditStatusChange || evt.PreviousValue != "false" || evt.NewValue != "true" {
		t.Errorf("unexpected audit event: %+v", evt)
	}
	if evt.Actor != "tester" {
		t.Errorf("expected actor 'tester', got '%s'", evt.Actor)
	}
}

func TestAssignTask_DeactivatesPriorActiveRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AssignTask(ctx, "1", "alice", "manager"); err != nil {
		t.Fatalf("first AssignTask failed: %v", err)
	}
	if _, err := f.svc.AssignTask(ctx, "1", "bob", "manager"); err != nil {
		t.Fatalf("second AssignTask failed: %v", err)
	}

	var active []models.Assignment
	f.db.Where("task_id = ? AND is_active = ?", "1", true).Find(&active)
	if len(active) != 1 {
		t.Fatalf("expected exactly 1 active assignment, got %d", len(active))
	}
	if active[0].AssignedToUserID != "bob" {
		t.Errorf("expected active assignment for bob, got '%s'", active[0].AssignedToUserID)
	}

	var inactive []models.Assignment
	f.db.Where("task_id = ? AND is_active = ?", "1", false).Find(&inactive)
	if len(inactive) != 1 {
		t.Fatalf("expected 1 historical row, got %d", len(inactive))
	}
	if inactive[0].UnassignedAt == nil {
		t.Error("deactivated row must record unassigned_at")
	}
}

func TestGetPipelines_ServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pipelines, err := f.svc.GetPipelines(ctx)
	if err != nil {
		t.Fatalf("GetPipelines failed: %v", err)
	}
	if len(pipelines) != 1 || pipelines[0].Name != "Sales" {
		t.Fatalf("unexpected pipelines: %+v", pipelines)
	}

	if _, err := f.svc.GetPipelines(ctx); err != nil {
		t.Fatalf("second GetPipelines failed: %v", err)
	}
}

func TestUpdateTaskDueDate_PatchesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetTasks(ctx, "p1", StatusAll); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := f.svc.UpdateTaskDueDate(ctx, "1", "2024-07-01", "tester"); err != nil {
		t.Fatalf("UpdateTaskDueDate failed: %v", err)
	}

	task, _, ok := f.tasks.FindTask("1")
	if !ok {
		t.Fatal("expected task still cached")
	}
	if task.DueDate != "2024-07-01" {
		t.Errorf("expected patched due date, got '%s'", task.DueDate)
	}
}
