package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/shared"
)

type mockRepository struct {
	inserted []Record
}

func (m *mockRepository) Insert(ctx context.Context, rec Record) error {
	m.inserted = append(m.inserted, rec)
	return nil
}

func (m *mockRepository) Query(ctx context.Context, tenantID int64, f Filters, limit, offset int) ([]Record, error) {
	var matched []Record
	for _, rec := range m.inserted {
		if rec.TenantID != tenantID {
			continue
		}
		if f.TableName != "" && rec.TableName != f.TableName {
			continue
		}
		if f.Action != "" && rec.Action != f.Action {
			continue
		}
		matched = append(matched, rec)
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func newTestService() (*Service, *mockRepository) {
	repo := &mockRepository{}
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) })
	return svc, repo
}

func TestRecordFillsDefaultsAndRedacts(t *testing.T) {
	svc, repo := newTestService()

	err := svc.Record(context.Background(), Record{
		TenantID:  1,
		TableName: "api_tokens",
		RecordID:  "5",
		Action:    ActionInsert,
		NewValues: Snapshot{"name": "ci token", "secret_hash": "$2a$10$abc"},
		ActorID:   7,
	})
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)

	rec := repo.inserted[0]
	require.NotEqual(t, rec.ID.String(), "00000000-0000-0000-0000-000000000000")
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), rec.OccurredAt)
	_, present := rec.NewValues["secret_hash"]
	require.False(t, present)
	require.Equal(t, "ci token", rec.NewValues["name"])
}

func TestRecordValidatesRequiredFields(t *testing.T) {
	svc, _ := newTestService()

	err := svc.Record(context.Background(), Record{TenantID: 1, RecordID: "1", Action: ActionInsert})
	require.Error(t, err)
	err = svc.Record(context.Background(), Record{TableName: "accounts", RecordID: "1", Action: ActionInsert})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestRecordFailureCarriesErrorKind(t *testing.T) {
	svc, repo := newTestService()

	err := svc.RecordFailure(context.Background(), 1, 7, "recurring_templates", "3", errors.New("deadlock detected"))
	require.NoError(t, err)
	require.Len(t, repo.inserted, 1)
	require.Equal(t, "deadlock detected", repo.inserted[0].ErrorKind)
	require.Equal(t, "operation failed", repo.inserted[0].Note)
}

func TestTrailPaginates(t *testing.T) {
	svc, _ := newTestService()
	for i := 0; i < 25; i++ {
		require.NoError(t, svc.Record(context.Background(), Record{
			TenantID:  1,
			TableName: "journal_entries",
			RecordID:  fmt.Sprintf("%d", i+1),
			Action:    ActionInsert,
			ActorID:   7,
		}))
	}

	actor := shared.Actor{TenantID: 1, UserID: 7}
	res, err := svc.Trail(context.Background(), actor, Filters{}, 1, 20)
	require.NoError(t, err)
	require.Len(t, res.Records, 20)
	require.True(t, res.HasNext)

	res, err = svc.Trail(context.Background(), actor, Filters{}, 2, 20)
	require.NoError(t, err)
	require.Len(t, res.Records, 5)
	require.False(t, res.HasNext)
}

func TestTrailFiltersByTableAndAction(t *testing.T) {
	svc, _ := newTestService()
	require.NoError(t, svc.Record(context.Background(), Record{
		TenantID: 1, TableName: "journal_entries", RecordID: "1", Action: ActionInsert,
	}))
	require.NoError(t, svc.Record(context.Background(), Record{
		TenantID: 1, TableName: "billing_periods", RecordID: "2", Action: ActionUpdate,
	}))

	actor := shared.Actor{TenantID: 1, UserID: 7}
	res, err := svc.Trail(context.Background(), actor, Filters{TableName: "billing_periods"}, 1, 20)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, ActionUpdate, res.Records[0].Action)
}

func TestTrailIsTenantScoped(t *testing.T) {
	svc, _ := newTestService()
	require.NoError(t, svc.Record(context.Background(), Record{
		TenantID: 1, TableName: "journal_entries", RecordID: "1", Action: ActionInsert,
	}))

	other := shared.Actor{TenantID: 2, UserID: 7}
	res, err := svc.Trail(context.Background(), other, Filters{}, 1, 20)
	require.NoError(t, err)
	require.Empty(t, res.Records)

	_, err = svc.Trail(context.Background(), shared.Actor{}, Filters{}, 1, 20)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}
