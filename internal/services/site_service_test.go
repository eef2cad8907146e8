package services

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/siteback/siteback-be/internal/database"
	"github.com/siteback/siteback-be/internal/models"
	"github.com/siteback/siteback-be/internal/transfer"
	"github.com/siteback/siteback-be/internal/websocket"
)

// newTestDB opens a migrated database backed by a file under the test's temp
// directory. A file rather than :memory:; the pool would hand each connection
// its own empty in-memory database.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// newTestHub returns a hub with its processing loop running so service
// broadcasts never block.
func newTestHub() *websocket.Hub {
	hub := websocket.NewHub()
	go hub.Run()
	return hub
}

// fakeTransferClient satisfies transfer.Client without touching the network.
type fakeTransferClient struct {
	testOK  bool
	testMsg string
}

func (c *fakeTransferClient) Connect(ctx context.Context) error { return nil }
func (c *fakeTransferClient) Disconnect()                       {}
func (c *fakeTransferClient) TestConnection(ctx context.Context) (bool, string) {
	return c.testOK, c.testMsg
}
func (c *fakeTransferClient) ProbeDir(path string) error                    { return nil }
func (c *fakeTransferClient) ListDir(path string) ([]transfer.Entry, error) { return nil, nil }
func (c *fakeTransferClient) FetchFile(remotePath, localPath string) (int64, error) {
	return 0, nil
}

func newSiteService(t *testing.T) (*SiteService, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewSiteService(db, NewEventService(db), t.TempDir()), db
}

func validSiteInput() models.SiteInput {
	return models.SiteInput{
		Name:       "Company site",
		Host:       "web.example.com",
		Protocol:   "sftp",
		Username:   "deploy",
		Password:   "secret",
		RemotePath: "/var/www/html",
	}
}

func insertRun(t *testing.T, db *sql.DB, siteID, status string, startedAt time.Time, totalBytes int64) string {
	t.Helper()
	id := uuid.New().String()
	completedAt := startedAt.Add(30 * time.Second)
	_, err := db.Exec(`
		INSERT INTO backup_runs (id, site_id, status, started_at, completed_at, total_bytes)
		VALUES (?, ?, ?, ?, ?, ?)`, id, siteID, status, startedAt, completedAt, totalBytes)
	if err != nil {
		t.Fatalf("inserting run: %v", err)
	}
	return id
}

func TestCreateSiteAppliesDefaults(t *testing.T) {
	svc, _ := newSiteService(t)

	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	if site.ID == "" {
		t.Fatal("expected a generated site ID")
	}
	if site.Protocol != "SFTP" {
		t.Errorf("protocol = %q, want SFTP", site.Protocol)
	}
	if site.Port != 22 {
		t.Errorf("port = %d, want SFTP default 22", site.Port)
	}
	if !site.IsActive {
		t.Error("new site should be active")
	}
	if !site.HasPassword || site.HasKeyFile {
		t.Errorf("presence flags = (%v, %v), want (true, false)", site.HasPassword, site.HasKeyFile)
	}

	ftp := validSiteInput()
	ftp.Name = "FTP site"
	ftp.Protocol = "ftp"
	ftpSite, err := svc.CreateSite(ftp)
	if err != nil {
		t.Fatalf("CreateSite(ftp): %v", err)
	}
	if ftpSite.Protocol != "FTP" || ftpSite.Port != 21 {
		t.Errorf("ftp site = (%q, %d), want (FTP, 21)", ftpSite.Protocol, ftpSite.Port)
	}
}

func TestCreateSiteValidatesRequiredFields(t *testing.T) {
	svc, _ := newSiteService(t)

	cases := []struct {
		name   string
		mutate func(*models.SiteInput)
	}{
		{"name", func(in *models.SiteInput) { in.Name = "" }},
		{"host", func(in *models.SiteInput) { in.Host = "  " }},
		{"protocol", func(in *models.SiteInput) { in.Protocol = "" }},
		{"username", func(in *models.SiteInput) { in.Username = "" }},
		{"remotePath", func(in *models.SiteInput) { in.RemotePath = "" }},
	}
	for _, tc := range cases {
		in := validSiteInput()
		tc.mutate(&in)
		if _, err := svc.CreateSite(in); !errors.Is(err, ErrInvalid) {
			t.Errorf("missing %s: got %v, want ErrInvalid", tc.name, err)
		}
	}

	in := validSiteInput()
	in.Protocol = "gopher"
	if _, err := svc.CreateSite(in); !errors.Is(err, ErrInvalid) {
		t.Errorf("unknown protocol: got %v, want ErrInvalid", err)
	}
}

func TestUpdateSiteAppliesOnlyProvidedFields(t *testing.T) {
	svc, _ := newSiteService(t)
	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	newName := "Renamed site"
	inactive := false
	updated, err := svc.UpdateSite(site.ID, models.SiteUpdate{Name: &newName, IsActive: &inactive})
	if err != nil {
		t.Fatalf("UpdateSite: %v", err)
	}
	if updated.Name != newName {
		t.Errorf("name = %q, want %q", updated.Name, newName)
	}
	if updated.IsActive {
		t.Error("site should be inactive after update")
	}
	if updated.Host != site.Host || updated.Port != site.Port || updated.Username != site.Username {
		t.Error("untouched fields should keep their stored values")
	}

	badProtocol := "carrier-pigeon"
	if _, err := svc.UpdateSite(site.ID, models.SiteUpdate{Protocol: &badProtocol}); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad protocol update: got %v, want ErrInvalid", err)
	}
	if _, err := svc.UpdateSite("no-such-site", models.SiteUpdate{Name: &newName}); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown site update: got %v, want ErrNotFound", err)
	}
}

func TestDeleteSiteCascades(t *testing.T) {
	svc, db := newSiteService(t)
	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	insertRun(t, db, site.ID, models.RunStatusSuccess, time.Now().UTC(), 1024)
	if _, err := db.Exec(`
		INSERT INTO schedules (id, site_id, cron_expression, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`, uuid.New().String(), site.ID, "0 3 * * *", true, time.Now().UTC()); err != nil {
		t.Fatalf("inserting schedule: %v", err)
	}

	if err := svc.DeleteSite(site.ID); err != nil {
		t.Fatalf("DeleteSite: %v", err)
	}
	if _, err := svc.GetSiteByID(site.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSiteByID after delete: got %v, want ErrNotFound", err)
	}
	for _, table := range []string{"backup_runs", "schedules"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE site_id = ?", site.ID).Scan(&count); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if count != 0 {
			t.Errorf("%s rows after delete = %d, want 0", table, count)
		}
	}
}

func TestBuildTargetDefaultsLocalRoot(t *testing.T) {
	db := newTestDB(t)
	base := t.TempDir()
	svc := NewSiteService(db, NewEventService(db), base)

	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	target, err := svc.BuildTarget(site)
	if err != nil {
		t.Fatalf("BuildTarget: %v", err)
	}
	if want := filepath.Join(base, site.ID); target.LocalRoot != want {
		t.Errorf("LocalRoot = %q, want fallback %q", target.LocalRoot, want)
	}
	if target.Protocol != transfer.ProtocolSFTP {
		t.Errorf("protocol = %q, want %q", target.Protocol, transfer.ProtocolSFTP)
	}
	if target.Host != site.Host || target.Port != site.Port || target.RemoteRoot != site.RemotePath {
		t.Error("target should carry the site's connection settings")
	}

	explicit := "/mnt/backups/company"
	site, err = svc.UpdateSite(site.ID, models.SiteUpdate{LocalBackupPath: &explicit})
	if err != nil {
		t.Fatalf("UpdateSite: %v", err)
	}
	target, err = svc.BuildTarget(site)
	if err != nil {
		t.Fatalf("BuildTarget: %v", err)
	}
	if target.LocalRoot != explicit {
		t.Errorf("LocalRoot = %q, want explicit %q", target.LocalRoot, explicit)
	}
}

func TestTestConnectionReportsProbeOutcome(t *testing.T) {
	svc, _ := newSiteService(t)
	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	svc.newClient = func(transfer.Target) (transfer.Client, error) {
		return &fakeTransferClient{testOK: false, testMsg: "login refused"}, nil
	}
	ok, msg := svc.TestConnection(context.Background(), site.ID)
	if ok || msg != "login refused" {
		t.Errorf("probe = (%v, %q), want (false, login refused)", ok, msg)
	}

	svc.newClient = func(transfer.Target) (transfer.Client, error) {
		return &fakeTransferClient{testOK: true, testMsg: "Connection successful"}, nil
	}
	if ok, _ := svc.TestConnection(context.Background(), site.ID); !ok {
		t.Error("probe should succeed with a healthy client")
	}

	if ok, msg := svc.TestConnection(context.Background(), "no-such-site"); ok || !strings.Contains(msg, "not found") {
		t.Errorf("missing site probe = (%v, %q), want failure naming the lookup", ok, msg)
	}
}

func TestGetSiteAttachesScheduleAndLastRun(t *testing.T) {
	svc, db := newSiteService(t)
	site, err := svc.CreateSite(validSiteInput())
	if err != nil {
		t.Fatalf("CreateSite: %v", err)
	}

	if _, err := db.Exec(`
		INSERT INTO schedules (id, site_id, cron_expression, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`, uuid.New().String(), site.ID, "30 2 * * *", true, time.Now().UTC()); err != nil {
		t.Fatalf("inserting schedule: %v", err)
	}
	now := time.Now().UTC()
	insertRun(t, db, site.ID, models.RunStatusSuccess, now.Add(-2*time.Hour), 2048)
	newest := insertRun(t, db, site.ID, models.RunStatusFailed, now.Add(-time.Hour), 0)

	got, err := svc.GetSiteByID(site.ID)
	if err != nil {
		t.Fatalf("GetSiteByID: %v", err)
	}
	if got.Schedule == nil || got.Schedule.CronExpression != "30 2 * * *" {
		t.Fatalf("schedule = %+v, want attached cron 30 2 * * *", got.Schedule)
	}
	if got.LastRun == nil || got.LastRun.ID != newest {
		t.Fatalf("last run = %+v, want newest run %s", got.LastRun, newest)
	}
	if got.LastRun.Status != models.RunStatusFailed {
		t.Errorf("last run status = %q, want %q", got.LastRun.Status, models.RunStatusFailed)
	}

	all, err := svc.GetAllSites()
	if err != nil {
		t.Fatalf("GetAllSites: %v", err)
	}
	if len(all) != 1 || all[0].Schedule == nil || all[0].LastRun == nil {
		t.Fatalf("GetAllSites should attach relations, got %+v", all)
	}
}
