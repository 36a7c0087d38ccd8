package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ledgersync/internal/auth"
	"github.com/mmynk/ledgersync/internal/config"
	"github.com/mmynk/ledgersync/internal/ledger"
	"github.com/mmynk/ledgersync/internal/models"
	"github.com/mmynk/ledgersync/internal/service"
	"github.com/mmynk/ledgersync/internal/storage/sqlite"
	lsync "github.com/mmynk/ledgersync/internal/sync"
	"github.com/mmynk/ledgersync/internal/transport"
	"github.com/mmynk/ledgersync/pkg/logging"
)

// testEnv points every config source at a temp directory.
func testEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("LEDGER_DB_PATH", dbPath)
	t.Setenv("LEDGER_DEVICE_ID", "device-1")
	t.Setenv("LEDGER_SYNC_SCHEDULE", "off")
	t.Setenv("LOG_LEVEL", "error")
	return dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := newRootCommand()
	assert.Equal(t, "ledgerd", cmd.Use)

	for _, name := range []string{"serve", "sync", "token", "config"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
}

func TestTokenCommand(t *testing.T) {
	testEnv(t)
	t.Setenv("LEDGER_JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--user", "user-1")
	require.NoError(t, err)

	claims, err := auth.NewJWTManager("cli-secret", time.Hour).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "device-1", claims.DeviceID)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "token", "--user", "user-1")
	assert.ErrorIs(t, err, errNoJWTSecret)
}

func TestConfigInit(t *testing.T) {
	testEnv(t)
	path := filepath.Join(t.TempDir(), "ledgerd.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Sync.PullLimit, cfg.Sync.PullLimit)
}

func TestSyncCommand_RequiresRemote(t *testing.T) {
	testEnv(t)

	_, err := execute(t, "sync", "--user", "user-1")
	assert.ErrorIs(t, err, errSyncDisabled)
}

// fakeRemote accepts every pushed obligation and has nothing to send back.
func fakeRemote(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var pushed []string
	codec := connect.WithCodec(transport.JSONCodec{})

	mux := http.NewServeMux()
	mux.Handle(transport.PushProcedure, connect.NewUnaryHandler(transport.PushProcedure,
		func(_ context.Context, req *connect.Request[lsync.PushRequest]) (*connect.Response[lsync.PushResponse], error) {
			for _, rec := range req.Msg.Tables.PayBook.Upserts {
				pushed = append(pushed, rec.ClientID)
			}
			return connect.NewResponse(&lsync.PushResponse{
				ServerTime:   lsync.Time(time.Now().UnixMilli()),
				ProcessedIDs: pushed,
			}), nil
		}, codec))
	mux.Handle(transport.PullProcedure, connect.NewUnaryHandler(transport.PullProcedure,
		func(_ context.Context, _ *connect.Request[lsync.PullRequest]) (*connect.Response[lsync.PullResponse], error) {
			return connect.NewResponse(&lsync.PullResponse{
				ServerTime: lsync.Time(time.Now().UnixMilli()),
				Tables:     lsync.NewTables(),
			}), nil
		}, codec))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pushed
}

func TestSyncCommand(t *testing.T) {
	dbPath := testEnv(t)
	srv, pushed := fakeRemote(t)
	t.Setenv("LEDGER_REMOTE_URL", srv.URL)
	t.Setenv("LEDGER_USER_ID", "user-1")

	store, err := sqlite.New(dbPath)
	require.NoError(t, err)
	id, err := ledger.NewService(store, nil).Incur(context.Background(), ledger.IncurInput{
		UserID:       "user-1",
		Direction:    models.DirectionPay,
		Counterparty: "Alice",
		Date:         time.Now().Add(-time.Hour).UnixMilli(),
		Principal:    decimal.NewFromInt(100),
		Currency:     "USD",
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err := execute(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed=1 cleared=1 conflicts=0")
	assert.Equal(t, []string{id}, *pushed)

	out, err = execute(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "pushed=0", "acknowledged rows are clean")
}

func TestNewHandler(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "ledger.db")
	a, err := newApp(cfg, logging.New(io.Discard, 0))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	jwtManager := auth.NewJWTManager("secret", time.Hour)
	srv := httptest.NewServer(newHandler(a, jwtManager))
	t.Cleanup(srv.Close)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "go_goroutines")

	client := connect.NewClient[service.GetSummaryRequest, service.GetSummaryResponse](
		srv.Client(), srv.URL+service.GetSummaryProcedure, connect.WithCodec(transport.JSONCodec{}))

	_, err = client.CallUnary(context.Background(), connect.NewRequest(&service.GetSummaryRequest{}))
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	token, err := jwtManager.Generate("user-1", "device-1")
	require.NoError(t, err)
	req := connect.NewRequest(&service.GetSummaryRequest{})
	req.Header().Set("Authorization", "Bearer "+token)
	summary, err := client.CallUnary(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, summary.Msg.Payable.IsZero())
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	a := &app{logger: logging.New(io.Discard, 0)}
	a.cfg.Sync.Schedule = "every tuesday"

	_, err := newScheduler(context.Background(), a)
	assert.Error(t, err)
}

func TestCORSPreflight(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the API")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/ledgersync.v1.LedgerService/Incur", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}
