package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/gateway-keeper/internal/models"
)

type prefixSealer struct{}

func (prefixSealer) Seal(p string) (string, error) { return "sealed:" + p, nil }

func (prefixSealer) Open(s string) (string, error) {
	p, ok := strings.CutPrefix(s, "sealed:")
	if !ok {
		return "", errors.New("not sealed")
	}
	return p, nil
}

func newStorageWithMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewWithDB(db, prefixSealer{}), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var identityCols = []string{"id", "uuid", "external_id", "email", "trial_used", "created_at", "updated_at"}

func TestCreateIdentity(t *testing.T) {
	s, mock := newStorageWithMock(t)
	now := time.Now()

	mock.ExpectQuery(q("INSERT INTO identities (uuid, external_id, email)") + ".*" + q("ON CONFLICT (external_id)")).
		WithArgs("u-1", "42", "a@b.c").
		WillReturnRows(sqlmock.NewRows(identityCols).AddRow(1, "u-1", "42", "a@b.c", false, now, now))

	got, err := s.CreateIdentity(context.Background(), "u-1", "42", "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, "u-1", got.UUID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockIdentity_NotFound(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectQuery(q("FROM identities WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.LockIdentity(context.Background(), 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTrialUsed_NoRows(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(q("UPDATE identities SET trial_used = $2")).
		WithArgs(int64(9), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetTrialUsed(context.Background(), 9, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

var nodeCols = []string{"id", "name", "api_url", "username", "password", "inbound_id", "active",
	"host", "port", "public_key", "short_ids", "sni", "security", "network", "flow", "fingerprint",
	"spider_x", "xhttp_host", "xhttp_path", "xhttp_mode", "created_at", "updated_at"}

func TestCreateNode_SealsPassword(t *testing.T) {
	s, mock := newStorageWithMock(t)
	now := time.Now()

	n := models.Node{Name: "ams", APIURL: "https://ams:2053", Username: "admin", Password: "pw",
		InboundID: 1, Active: true, Host: "ams.example.com", Port: 443, ShortIDs: []string{"a1", "b2"}}

	mock.ExpectQuery(q("INSERT INTO nodes")).
		WithArgs("ams", "https://ams:2053", "admin", "sealed:pw", 1, true, "ams.example.com", 443, "", "a1,b2",
			"", "", "", "", "", "", "", "", "").
		WillReturnRows(sqlmock.NewRows(nodeCols).AddRow(3, "ams", "https://ams:2053", "admin", "sealed:pw", 1, true,
			"ams.example.com", 443, "", "a1,b2", "", "", "", "", "", "", "", "", "", now, now))

	got, err := s.CreateNode(context.Background(), n)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, []string{"a1", "b2"}, got.ShortIDs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveNodes(t *testing.T) {
	s, mock := newStorageWithMock(t)
	now := time.Now()

	mock.ExpectQuery(q("FROM nodes WHERE active ORDER BY id")).
		WillReturnRows(sqlmock.NewRows(nodeCols).
			AddRow(1, "a", "https://a", "u", "sealed:x", 1, true, "a", 443, "", "", "", "", "", "", "", "", "", "", "", now, now).
			AddRow(2, "b", "https://b", "u", "sealed:y", 2, true, "b", 443, "", "", "", "", "", "", "", "", "", "", "", now, now))

	nodes, err := s.ListActiveNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "y", nodes[1].Password)
	assert.Nil(t, nodes[0].ShortIDs)
}

func TestUpsertCredential(t *testing.T) {
	s, mock := newStorageWithMock(t)
	at := time.Now()
	exp := at.Add(time.Hour)

	mock.ExpectExec(q("INSERT INTO credentials") + ".*" + q("ON CONFLICT (identity_id, node_id) DO UPDATE")).
		WithArgs(int64(1), int64(2), "u-1", true, at, "", &exp).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertCredential(context.Background(), models.Credential{
		IdentityID: 1, NodeID: 2, RemoteID: "u-1", Synced: true, LastAttemptAt: at, ExpiresAt: &exp,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

var dueCols = []string{"id", "identity_id", "plan", "expires_at", "is_active", "notified_24h", "notified_0h",
	"expired_handled", "created_at", "updated_at", "uuid", "external_id", "email"}

func TestDueReminders(t *testing.T) {
	s, mock := newStorageWithMock(t)
	now := time.Now()
	until := now.Add(24 * time.Hour)

	mock.ExpectQuery(q("s.expires_at > $1 AND s.expires_at <= $2 AND NOT s.notified_24h")).
		WithArgs(now, until).
		WillReturnRows(sqlmock.NewRows(dueCols).
			AddRow(10, 1, "m1", now.Add(time.Hour), true, false, false, false, now, now, "u-1", "42", "a@b.c"))

	due, err := s.DueReminders(context.Background(), models.Reminder24h, now, until)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(10), due[0].ID)
	assert.Equal(t, "u-1", due[0].IdentityUUID)

	_, err = s.DueReminders(context.Background(), models.ReminderKind("weekly"), now, until)
	assert.Error(t, err)
}

func TestMarkReminderSent(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "flag latched", affected: 1, want: true},
		{name: "subscription renewed meanwhile", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newStorageWithMock(t)
			exp := time.Now()

			mock.ExpectExec(q("UPDATE subscriptions SET notified_0h = TRUE") + ".*" + q("WHERE id = $1 AND expires_at = $2 AND is_active")).
				WithArgs(int64(4), exp).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			got, err := s.MarkReminderSent(context.Background(), 4, models.Reminder0h, exp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkPaymentProcessed_AlreadyProcessed(t *testing.T) {
	s, mock := newStorageWithMock(t)
	at := time.Now()

	mock.ExpectExec(q("WHERE payment_id = $1 AND processed_at IS NULL")).
		WithArgs("pay-1", models.PaymentSucceeded, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkPaymentProcessed(context.Background(), "pay-1", at)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInTx(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE identities SET trial_used")).
		WithArgs(int64(1), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx *Storage) error {
		return tx.SetTrialUsed(ctx, 1, true)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_Rollback(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE identities SET trial_used")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx *Storage) error {
		return tx.SetTrialUsed(ctx, 1, true)
	})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
