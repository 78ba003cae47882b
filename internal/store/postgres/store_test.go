package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/taskhive/taskhive/pkg/models"
)

func TestOpen_skipIfNoDatabaseURL(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping postgres test")
	}
	st, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	sess, err := st.CreateSession(ctx, "pg-smoke", "", nil)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := st.UpdateSessionStatus(ctx, sess.ID, models.StatusRunning); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.StatusRunning || got.StartedAt == nil {
		t.Fatalf("session = %+v", got)
	}
	if _, err := st.AppendLog(ctx, models.SessionLog{SessionID: sess.ID, Level: models.LevelInfo, Message: "smoke"}); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
}
