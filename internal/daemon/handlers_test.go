package daemon

import (
	"testing"

	"github.com/boshu2/agentctl/internal/store"
	"github.com/boshu2/agentctl/internal/task"
	"github.com/boshu2/agentctl/internal/wire"
)

func TestHandleSendMessageAndReadMessages(t *testing.T) {
	d := openTestDaemon(t)

	reply := handleSendMessage(d, "alice", map[string]any{"to": "bob", "content": "hi bob"})
	if reply["type"] != wire.TypeResult {
		t.Fatalf("handleSendMessage() reply = %+v, want a result", reply)
	}
	if reply["delivered"] != true {
		t.Errorf("delivered = %v, want true", reply["delivered"])
	}

	unread := handleCountUnread(d, "bob", map[string]any{})
	if unread["count"] != 1 {
		t.Errorf("count = %v, want 1", unread["count"])
	}

	read := handleReadMessages(d, "bob", map[string]any{})
	if read["type"] != wire.TypeResult {
		t.Fatalf("handleReadMessages() reply = %+v, want a result", read)
	}

	unreadAfter := handleCountUnread(d, "bob", map[string]any{})
	if unreadAfter["count"] != 0 {
		t.Errorf("count after read-all = %v, want 0", unreadAfter["count"])
	}
}

func TestHandleSendMessageRequiresToAndContent(t *testing.T) {
	d := openTestDaemon(t)
	reply := handleSendMessage(d, "alice", map[string]any{"to": "", "content": ""})
	if reply["type"] != wire.TypeError {
		t.Fatalf("reply = %+v, want an error for missing fields", reply)
	}
}

func TestHandleUpdateTaskStatusAcceptedRecordsTrustAndCapability(t *testing.T) {
	d := openTestDaemon(t)

	var id string
	if err := d.State.UpdateBoard(func(b task.Board) (task.Board, error) {
		var err error
		var t1 task.Task
		b, t1, err = task.AddTask(b, d.Now(), "ship the feature", "alice", task.AddOptions{})
		id = t1.ID
		return b, err
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.State.UpdateBoard(func(b task.Board) (task.Board, error) {
		return task.UpdateTaskStatus(b, d.Now(), id, task.StatusInProgress)
	}); err != nil {
		t.Fatal(err)
	}
	if err := d.State.UpdateBoard(func(b task.Board) (task.Board, error) {
		return task.SubmitForReview(b, d.Now(), id, nil)
	}); err != nil {
		t.Fatal(err)
	}

	reply := handleUpdateTaskStatus(d, "carol", map[string]any{
		"taskId": id, "status": string(task.StatusAccepted), "reason": "looks good",
	})
	if reply["type"] != wire.TypeResult {
		t.Fatalf("handleUpdateTaskStatus() reply = %+v, want a result", reply)
	}

	trust, ok, err := d.Trust.Get("alice")
	if err != nil || !ok {
		t.Fatalf("Trust.Get(alice) ok=%v err=%v", ok, err)
	}
	if trust.Score == 0 {
		t.Error("trust score was not recorded for an accepted task")
	}

	capability, ok, err := d.Capabilities.Get("alice")
	if err != nil || !ok {
		t.Fatalf("Capabilities.Get(alice) ok=%v err=%v", ok, err)
	}
	if capability.TotalAccepted != 1 {
		t.Errorf("TotalAccepted = %d, want 1", capability.TotalAccepted)
	}
}

func TestHandleUpdateTaskStatusRequiresFields(t *testing.T) {
	d := openTestDaemon(t)
	reply := handleUpdateTaskStatus(d, "alice", map[string]any{})
	if reply["type"] != wire.TypeError {
		t.Fatalf("reply = %+v, want an error for missing taskId/status", reply)
	}
}

func TestHandleIndexNoteAndSearchKnowledge(t *testing.T) {
	d := openTestDaemon(t)

	idxReply := handleIndexNote(d, "alice", map[string]any{"content": "retry with exponential backoff"})
	if idxReply["type"] != wire.TypeResult {
		t.Fatalf("handleIndexNote() reply = %+v, want a result", idxReply)
	}
	noteID, _ := idxReply["noteId"].(string)
	if noteID == "" {
		t.Fatal("noteId is empty")
	}

	searchReply := handleSearchKnowledge(d, "alice", map[string]any{"query": "backoff"})
	if searchReply["type"] != wire.TypeResult {
		t.Fatalf("handleSearchKnowledge() reply = %+v, want a result", searchReply)
	}
	notes, ok := searchReply["notes"].([]store.Note)
	if !ok {
		t.Fatalf("notes has unexpected type %T", searchReply["notes"])
	}
	if len(notes) != 1 {
		t.Errorf("notes = %v, want 1 match", notes)
	}
}

func TestHandleLinkTaskAndGetTaskLinks(t *testing.T) {
	d := openTestDaemon(t)

	idxReply := handleIndexNote(d, "alice", map[string]any{"content": "watch flaky retries"})
	noteID, _ := idxReply["noteId"].(string)

	linkReply := handleLinkTask(d, "alice", map[string]any{"taskId": "t1", "noteId": noteID})
	if linkReply["type"] != wire.TypeResult {
		t.Fatalf("handleLinkTask() reply = %+v, want a result", linkReply)
	}

	linksReply := handleGetTaskLinks(d, "alice", map[string]any{"taskId": "t1"})
	if linksReply["type"] != wire.TypeResult {
		t.Fatalf("handleGetTaskLinks() reply = %+v, want a result", linksReply)
	}
}

func TestHandleGetAnalyticsCountsTasksByStatus(t *testing.T) {
	d := openTestDaemon(t)

	if err := d.State.UpdateBoard(func(b task.Board) (task.Board, error) {
		b, _, err := task.AddTask(b, d.Now(), "task one", "alice", task.AddOptions{})
		return b, err
	}); err != nil {
		t.Fatal(err)
	}

	reply := handleGetAnalytics(d, "alice", map[string]any{})
	if reply["type"] != wire.TypeResult {
		t.Fatalf("handleGetAnalytics() reply = %+v, want a result", reply)
	}
	byStatus, ok := reply["tasksByStatus"].(map[task.Status]int)
	if !ok {
		t.Fatalf("tasksByStatus has unexpected type %T", reply["tasksByStatus"])
	}
	if byStatus[task.StatusTodo] != 1 {
		t.Errorf("tasksByStatus[todo] = %d, want 1", byStatus[task.StatusTodo])
	}
}

func TestHandleRunAcceptanceSuiteSignsReceiptWhenTaskIDGiven(t *testing.T) {
	d := openTestDaemon(t)

	reply := handleRunAcceptanceSuite(d, "alice", map[string]any{
		"taskId":  "t1",
		"workDir": t.TempDir(),
		"commands": []any{"true"},
	})
	if reply["type"] != wire.TypeResult {
		t.Fatalf("handleRunAcceptanceSuite() reply = %+v, want a result", reply)
	}
	if reply["receipt"] == nil {
		t.Error("receipt is nil, want a signed receipt since taskId was supplied")
	}
}

func TestHandleRunAcceptanceSuiteWithoutTaskIDSkipsReceipt(t *testing.T) {
	d := openTestDaemon(t)

	reply := handleRunAcceptanceSuite(d, "alice", map[string]any{
		"workDir":  t.TempDir(),
		"commands": []any{"true"},
	})
	if reply["type"] != wire.TypeResult {
		t.Fatalf("handleRunAcceptanceSuite() reply = %+v, want a result", reply)
	}
	if _, ok := reply["receipt"]; ok {
		t.Error("receipt present, want none when taskId was not supplied")
	}
}
