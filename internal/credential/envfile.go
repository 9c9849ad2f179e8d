package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"catalog_sync/internal/domain"
)

// EnvFileRepository keeps credentials in a dotenv overlay file, one block of
// keys per platform:
//
//	SHOPEE_ACCESS_TOKEN, SHOPEE_ACCESS_TOKEN_EXPIRES_AT,
//	SHOPEE_REFRESH_TOKEN, SHOPEE_REFRESH_TOKEN_EXPIRES_AT
//
// Save rewrites the whole file through a rename, so readers never observe a
// half-rotated token pair.
type EnvFileRepository struct {
	path string
	mu   sync.Mutex
}

func NewEnvFileRepository(path string) *EnvFileRepository {
	return &EnvFileRepository{path: path}
}

func (r *EnvFileRepository) Get(ctx context.Context, platform string) (*domain.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.read()
	if err != nil {
		return nil, err
	}

	prefix := envPrefix(platform)
	access, hasAccess := env[prefix+"ACCESS_TOKEN"]
	refresh, hasRefresh := env[prefix+"REFRESH_TOKEN"]
	if !hasAccess && !hasRefresh {
		return nil, domain.ErrCredentialAbsent
	}

	cred := &domain.Credential{
		Platform:     platform,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if cred.AccessTokenExpiresAt, err = parseTime(env[prefix+"ACCESS_TOKEN_EXPIRES_AT"]); err != nil {
		return nil, fmt.Errorf("parse %sACCESS_TOKEN_EXPIRES_AT: %w", prefix, err)
	}
	if cred.RefreshTokenExpiresAt, err = parseTime(env[prefix+"REFRESH_TOKEN_EXPIRES_AT"]); err != nil {
		return nil, fmt.Errorf("parse %sREFRESH_TOKEN_EXPIRES_AT: %w", prefix, err)
	}
	if cred.UpdatedAt, err = parseTime(env[prefix+"UPDATED_AT"]); err != nil {
		return nil, fmt.Errorf("parse %sUPDATED_AT: %w", prefix, err)
	}
	return cred, nil
}

func (r *EnvFileRepository) Save(ctx context.Context, cred *domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	env, err := r.read()
	if err != nil {
		return err
	}

	prefix := envPrefix(cred.Platform)
	env[prefix+"ACCESS_TOKEN"] = cred.AccessToken
	env[prefix+"ACCESS_TOKEN_EXPIRES_AT"] = formatTime(cred.AccessTokenExpiresAt)
	env[prefix+"REFRESH_TOKEN"] = cred.RefreshToken
	env[prefix+"REFRESH_TOKEN_EXPIRES_AT"] = formatTime(cred.RefreshTokenExpiresAt)
	env[prefix+"UPDATED_AT"] = formatTime(cred.UpdatedAt)

	content, err := godotenv.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal overlay: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp overlay: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp overlay: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp overlay: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp overlay: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace overlay: %w", err)
	}
	return nil
}

func (r *EnvFileRepository) read() (map[string]string, error) {
	env, err := godotenv.Read(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	return env, nil
}

func envPrefix(platform string) string {
	return strings.ToUpper(platform) + "_"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
