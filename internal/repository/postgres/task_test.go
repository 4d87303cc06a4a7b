package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
)

func taskDate() time.Time {
	return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
}

func TestTaskRepoGetByKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	pages := 3
	mock.ExpectQuery("SELECT id, bucket_name, vendor").
		WithArgs("b1", domain.VendorCallPilot, taskDate()).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "bucket_name", "vendor", "campaign_date", "status",
			"retry_count", "page_count", "last_error", "created_at", "updated_at",
		}).AddRow("t1", "b1", "callpilot", taskDate(), "stored", 1, pages, "", now, now))

	repo := NewTaskRepo(db)
	task, err := repo.GetByKey(context.Background(), "b1", domain.VendorCallPilot, taskDate())
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if task.Status != domain.TaskStored || task.PageCount == nil || *task.PageCount != 3 {
		t.Errorf("unexpected task: %+v", task)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTaskRepoGetByKey_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, bucket_name, vendor").
		WithArgs("b1", domain.VendorCallPilot, taskDate()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	repo := NewTaskRepo(db)
	_, err = repo.GetByKey(context.Background(), "b1", domain.VendorCallPilot, taskDate())
	if !errors.Is(err, tasktrack.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTaskRepoSetPageCount_OnlyOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE campaign_tasks SET page_count").
		WithArgs("t1", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaign_tasks SET page_count").
		WithArgs("t1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewTaskRepo(db)
	if err := repo.SetPageCount(context.Background(), "t1", 3); err != nil {
		t.Fatalf("first SetPageCount: %v", err)
	}
	if err := repo.SetPageCount(context.Background(), "t1", 5); err == nil {
		t.Fatal("second SetPageCount must be rejected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTaskRepoCountPageEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT COUNT\\(DISTINCT page\\)").
		WithArgs("t1", domain.TaskSentBatch).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	repo := NewTaskRepo(db)
	n, err := repo.CountPageEvents(context.Background(), "t1", domain.TaskSentBatch)
	if err != nil {
		t.Fatalf("CountPageEvents: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestSentRepoInsertEntries_Transactional(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO sent_ledger")
	mock.ExpectExec("INSERT INTO sent_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sent_ledger").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewSentRepo(db)
	entries := []domain.SentEntry{
		{ID: "s1", TaskID: "t1", AccountID: "a1", PaymentID: "p1", BucketName: "b1", Vendor: domain.VendorCallPilot, Page: 0, CampaignDate: taskDate()},
		{ID: "s2", TaskID: "t1", AccountID: "a2", PaymentID: "p2", BucketName: "b1", Vendor: domain.VendorCallPilot, Page: 0, CampaignDate: taskDate()},
	}
	if err := repo.InsertEntries(context.Background(), entries); err != nil {
		t.Fatalf("InsertEntries: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSentRepoPageDispatched(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("t1", 0).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewSentRepo(db)
	done, err := repo.PageDispatched(context.Background(), "t1", 0)
	if err != nil {
		t.Fatalf("PageDispatched: %v", err)
	}
	if !done {
		t.Error("expected dispatched page")
	}
}
