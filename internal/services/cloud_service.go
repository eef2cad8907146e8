package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/siteback/siteback-be/internal/auth"
	"github.com/siteback/siteback-be/internal/cloud"
	"github.com/siteback/siteback-be/internal/config"
	"github.com/siteback/siteback-be/internal/models"
)

// CloudServiceProvider defines the interface for cloud account and push services.
type CloudServiceProvider interface {
	ConfiguredProviders() []cloud.Provider
	ListAccounts() ([]models.CloudAccount, error)
	ConnectURL(provider string) (string, error)
	HandleCallback(ctx context.Context, state, code string) (models.CloudAccount, error)
	Disconnect(provider string) error
	ListFolders(ctx context.Context, provider, parentID string) ([]cloud.Folder, error)
	PushRun(ctx context.Context, runID, provider, folderID string) (models.BackupRun, error)
}

// CloudService provides business logic for cloud destinations: the OAuth
// consent round trip, stored credentials, and pushing finished snapshots.
// It persists credentials in the cloud_accounts table, one row per provider.
type CloudService struct {
	db            *sql.DB
	backupService BackupServiceProvider
	eventService  EventServiceProvider
	signer        *auth.StateSigner
	uploaders     map[cloud.Provider]cloud.Uploader
	tokens        *cloud.TokenStore
	pusher        *cloud.Pusher
}

// NewCloudService creates a new CloudService with an uploader per provider
// that has application credentials configured.
func NewCloudService(db *sql.DB, backupService BackupServiceProvider, eventService EventServiceProvider, cfg *config.Config) *CloudService {
	s := &CloudService{
		db:            db,
		backupService: backupService,
		eventService:  eventService,
		signer:        auth.NewStateSigner(cfg.StateSecret),
		uploaders:     make(map[cloud.Provider]cloud.Uploader),
	}

	apps := map[cloud.Provider]config.OAuthApp{
		cloud.ProviderGoogleDrive: cfg.GoogleDrive,
		cloud.ProviderOneDrive:    cfg.OneDrive,
		cloud.ProviderDropbox:     cfg.Dropbox,
	}
	for provider, app := range apps {
		if !app.Configured() {
			continue
		}
		uploader, err := cloud.NewUploader(provider, app.ClientID, app.ClientSecret, cfg.RedirectURL())
		if err != nil {
			log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to set up cloud uploader")
			continue
		}
		s.uploaders[provider] = uploader
	}

	s.tokens = cloud.NewTokenStore(s, s.refreshCredential)
	s.pusher = cloud.NewPusher(s.tokens)
	return s
}

// ConfiguredProviders lists the providers this deployment can talk to.
func (s *CloudService) ConfiguredProviders() []cloud.Provider {
	var providers []cloud.Provider
	for _, p := range cloud.Providers() {
		if _, ok := s.uploaders[p]; ok {
			providers = append(providers, p)
		}
	}
	return providers
}

// ListAccounts retrieves the providers with a stored credential.
func (s *CloudService) ListAccounts() ([]models.CloudAccount, error) {
	rows, err := s.db.Query("SELECT provider, connected_at FROM cloud_accounts ORDER BY provider")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.CloudAccount
	for rows.Next() {
		var account models.CloudAccount
		if err := rows.Scan(&account.Provider, &account.ConnectedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// ConnectURL builds the provider consent URL for the OAuth round trip. The
// state parameter carries a signed, short-lived claim naming the provider so
// the callback can be matched without server-side session state.
func (s *CloudService) ConnectURL(provider string) (string, error) {
	uploader, p, err := s.uploaderFor(provider)
	if err != nil {
		return "", err
	}
	state, err := s.signer.Sign(string(p))
	if err != nil {
		return "", err
	}
	return uploader.AuthCodeURL(state), nil
}

// HandleCallback finishes the OAuth round trip: it validates the signed
// state, exchanges the code for tokens and stores the credential.
func (s *CloudService) HandleCallback(ctx context.Context, state, code string) (models.CloudAccount, error) {
	providerName, err := s.signer.Validate(state)
	if err != nil {
		return models.CloudAccount{}, fmt.Errorf("%w: state: %v", ErrInvalid, err)
	}
	uploader, provider, err := s.uploaderFor(providerName)
	if err != nil {
		return models.CloudAccount{}, err
	}

	cred, err := uploader.Exchange(ctx, code)
	if err != nil {
		return models.CloudAccount{}, err
	}
	cred.Provider = provider
	if err := s.Save(ctx, cred); err != nil {
		return models.CloudAccount{}, err
	}

	s.eventService.CreateEvent("cloud.connect", "info", fmt.Sprintf("Connected %s account.", provider), nil)
	log.Info().Str("provider", string(provider)).Msg("Cloud account connected")
	return s.getAccount(provider)
}

// Disconnect forgets the stored credential for a provider.
func (s *CloudService) Disconnect(provider string) error {
	p, err := cloud.ParseProvider(provider)
	if err != nil {
		return err
	}
	res, err := s.db.Exec("DELETE FROM cloud_accounts WHERE provider = ?", string(p))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: cloud account", ErrNotFound)
	}
	s.eventService.CreateEvent("cloud.disconnect", "warn", fmt.Sprintf("Disconnected %s account.", p), nil)
	return nil
}

// ListFolders lists remote directories offered as push destinations.
func (s *CloudService) ListFolders(ctx context.Context, provider, parentID string) ([]cloud.Folder, error) {
	uploader, p, err := s.uploaderFor(provider)
	if err != nil {
		return nil, err
	}
	cred, err := s.tokens.EnsureValid(ctx, p)
	if err != nil {
		return nil, err
	}
	return uploader.ListFolders(ctx, cred.AccessToken, parentID)
}

// PushRun archives a finished run's snapshot and uploads it to the provider,
// then records the destination on the run.
func (s *CloudService) PushRun(ctx context.Context, runID, provider, folderID string) (models.BackupRun, error) {
	run, err := s.backupService.GetRunByID(runID)
	if err != nil {
		return models.BackupRun{}, err
	}
	if run.Status != models.RunStatusSuccess || run.SnapshotPath == "" {
		return models.BackupRun{}, fmt.Errorf("%w: only successful runs with a snapshot can be pushed", ErrInvalid)
	}
	uploader, p, err := s.uploaderFor(provider)
	if err != nil {
		return models.BackupRun{}, err
	}

	result, err := s.pusher.Push(ctx, uploader, run.SnapshotPath, folderID, "")
	if err != nil {
		s.eventService.CreateEvent("cloud.push.failed", "error", fmt.Sprintf("Push to %s failed: %s.", p, err), &run.SiteID)
		return models.BackupRun{}, err
	}

	if err := s.backupService.RecordPush(run.ID, string(result.Provider), result.RemoteID); err != nil {
		return models.BackupRun{}, err
	}
	msg := fmt.Sprintf("Snapshot '%s' pushed to %s.", result.Filename, p)
	s.eventService.CreateEvent("cloud.push", "info", msg, &run.SiteID)
	return s.backupService.GetRunByID(run.ID)
}

// Load implements cloud.CredentialStore.
func (s *CloudService) Load(ctx context.Context, provider cloud.Provider) (cloud.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, access_token, refresh_token, token_expiry
		FROM cloud_accounts WHERE provider = ?`, string(provider))
	var cred cloud.Credential
	var expiry *time.Time
	err := row.Scan(&cred.Provider, &cred.AccessToken, &cred.RefreshToken, &expiry)
	if err != nil {
		if err == sql.ErrNoRows {
			return cloud.Credential{}, fmt.Errorf("%w: no %s account connected", ErrNotFound, provider)
		}
		return cloud.Credential{}, err
	}
	if expiry != nil {
		cred.Expiry = *expiry
	}
	return cred, nil
}

// Save implements cloud.CredentialStore. Reconnecting or refreshing replaces
// the tokens but keeps the original connection time.
func (s *CloudService) Save(ctx context.Context, cred cloud.Credential) error {
	var expiry interface{}
	if !cred.Expiry.IsZero() {
		expiry = cred.Expiry
	}
	stmt, err := s.db.Prepare(`
		INSERT INTO cloud_accounts (provider, access_token, refresh_token, token_expiry, connected_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	_, err = stmt.ExecContext(ctx, string(cred.Provider), cred.AccessToken, cred.RefreshToken, expiry, time.Now().UTC())
	return err
}

func (s *CloudService) getAccount(provider cloud.Provider) (models.CloudAccount, error) {
	row := s.db.QueryRow("SELECT provider, connected_at FROM cloud_accounts WHERE provider = ?", string(provider))
	var account models.CloudAccount
	if err := row.Scan(&account.Provider, &account.ConnectedAt); err != nil {
		if err == sql.ErrNoRows {
			return models.CloudAccount{}, fmt.Errorf("%w: cloud account", ErrNotFound)
		}
		return models.CloudAccount{}, err
	}
	return account, nil
}

// uploaderFor resolves a provider name to its configured uploader.
func (s *CloudService) uploaderFor(name string) (cloud.Uploader, cloud.Provider, error) {
	provider, err := cloud.ParseProvider(name)
	if err != nil {
		return nil, "", err
	}
	uploader, ok := s.uploaders[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s application credentials are not configured", ErrInvalid, provider)
	}
	return uploader, provider, nil
}

// refreshCredential is the TokenStore's refresh hook.
func (s *CloudService) refreshCredential(ctx context.Context, cred cloud.Credential) (cloud.Credential, error) {
	uploader, ok := s.uploaders[cred.Provider]
	if !ok {
		return cloud.Credential{}, fmt.Errorf("%w: %s application credentials are not configured", ErrInvalid, cred.Provider)
	}
	return uploader.Refresh(ctx, cred)
}
