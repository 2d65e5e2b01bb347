package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"ProjectForge/internal/repository"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func (f *fakeProjectRepo) TouchTx(_ context.Context, _ *sqlx.Tx, id string, ts time.Time) error {
	if f.touchTx != nil {
		return f.touchTx(id, ts)
	}
	return nil
}

func (f *fakeMessageRepo) CreateTx(_ context.Context, _ *sqlx.Tx, m *repository.Message) (int64, error) {
	f.created = append(f.created, *m)
	return int64(len(f.created)), nil
}

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (g *fakeGenerator) Generate(ctx context.Context, message, projectPrompt string) (string, error) {
	g.calls++
	return g.reply, g.err
}

func TestChatService_Send(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	var touched string
	projects := &fakeProjectRepo{
		getForUser: ownedBy(1, repository.Project{ID: "p1", UserID: 1, Prompt: "shop"}),
		touchTx: func(id string, _ time.Time) error {
			touched = id
			return nil
		},
	}
	messages := &fakeMessageRepo{}
	gen := &fakeGenerator{reply: "Here is a plan"}
	svc := NewChatService(db, projects, messages, gen, nil)

	reply, err := svc.Send(context.Background(), 1, "p1", "build a cart")
	if err != nil || reply != "Here is a plan" {
		t.Fatalf("reply=%q err=%v", reply, err)
	}
	if len(messages.created) != 2 ||
		messages.created[0].Role != repository.RoleUser || messages.created[0].Content != "build a cart" ||
		messages.created[1].Role != repository.RoleAssistant || messages.created[1].Content != "Here is a plan" {
		t.Fatalf("unexpected messages %+v", messages.created)
	}
	if touched != "p1" {
		t.Fatalf("project not touched")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
}

func TestChatService_SendRollsBackOnWriteError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	projects := &fakeProjectRepo{
		getForUser: ownedBy(1, repository.Project{ID: "p1", UserID: 1}),
		touchTx:    func(string, time.Time) error { return errors.New("deadlock") },
	}
	svc := NewChatService(db, projects, &fakeMessageRepo{}, &fakeGenerator{reply: "ok"}, nil)

	if _, err := svc.Send(context.Background(), 1, "p1", "hi"); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
}

func TestChatService_SendFailures(t *testing.T) {
	cases := []struct {
		name    string
		userID  int64
		content string
		gen     *fakeGenerator
		wantErr error
		genCall bool
	}{
		{name: "empty content", userID: 1, content: "  ", gen: &fakeGenerator{}, wantErr: ErrBadRequest},
		{name: "not owner", userID: 2, content: "hi", gen: &fakeGenerator{}, wantErr: ErrNotFound},
		{name: "generator down", userID: 1, content: "hi", gen: &fakeGenerator{err: errors.New("circuit open")}, wantErr: ErrUnavailable, genCall: true},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			projects := &fakeProjectRepo{getForUser: ownedBy(1, repository.Project{ID: "p1", UserID: 1})}
			messages := &fakeMessageRepo{}
			svc := NewChatService(db, projects, messages, tt.gen, nil)

			_, err := svc.Send(context.Background(), tt.userID, "p1", tt.content)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if (tt.gen.calls == 1) != tt.genCall {
				t.Fatalf("generator calls=%d", tt.gen.calls)
			}
			if len(messages.created) != 0 {
				t.Fatalf("nothing must be written")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
		})
	}
}

func TestChatService_ListMessages(t *testing.T) {
	projects := &fakeProjectRepo{getForUser: ownedBy(1, repository.Project{ID: "p1", UserID: 1})}
	svc := NewChatService(nil, projects, &fakeMessageRepo{}, &fakeGenerator{}, nil)

	msgs, err := svc.ListMessages(context.Background(), 1, "p1")
	if err != nil || msgs == nil {
		t.Fatalf("msgs=%v err=%v", msgs, err)
	}
	if _, err := svc.ListMessages(context.Background(), 2, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
