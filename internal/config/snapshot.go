package config

import (
	"path/filepath"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// Defaults applied when the configuration file leaves a value unset.
const (
	DefaultPollInterval = time.Second
	DefaultStablePolls  = 2
	DefaultSidecarWait  = 5 * time.Second
	DefaultQueueSize    = 64
	DefaultLanguage     = "deu"
	DefaultSidecarExt   = ".xml"
	DefaultFilename     = "<FileName>"
	DefaultRetries      = 3
	DefaultRetryBackoff = time.Second
)

// TLSMode selects how the SMTP connection is secured.
type TLSMode string

const (
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "ssl"
	TLSNone     TLSMode = "none"
)

func (m *TLSMode) UnmarshalText(b []byte) error {
	v, err := models.ParseEnum("settings.smtp.tls", string(b), TLSStartTLS, TLSStartTLS, TLSImplicit, TLSNone)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// AuthMode selects the SMTP authentication mechanism.
type AuthMode string

const (
	AuthPlain   AuthMode = "plain"
	AuthLogin   AuthMode = "login"
	AuthXOAUTH2 AuthMode = "xoauth2"
	AuthNone    AuthMode = "none"
)

func (m *AuthMode) UnmarshalText(b []byte) error {
	v, err := models.ParseEnum("settings.smtp.auth", string(b), AuthPlain, AuthPlain, AuthLogin, AuthXOAUTH2, AuthNone)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// OAuth2Settings obtains SMTP access tokens either with the client
// credentials grant or from a long-lived refresh token.
type OAuth2Settings struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes,omitempty"`
	RefreshToken string   `yaml:"refresh_token,omitempty"`
}

type SMTPSettings struct {
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port,omitempty"`
	Username string          `yaml:"username,omitempty"`
	Password string          `yaml:"password,omitempty"`
	From     string          `yaml:"from"`
	TLS      TLSMode         `yaml:"tls,omitempty"`
	Auth     AuthMode        `yaml:"auth,omitempty"`
	OAuth2   *OAuth2Settings `yaml:"oauth2,omitempty"`
	Timeout  time.Duration   `yaml:"timeout,omitempty"`
}

// DatabaseSettings names a SQL source for field mappings.
type DatabaseSettings struct {
	DSN     string        `yaml:"dsn"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type RetrySettings struct {
	Attempts int           `yaml:"attempts,omitempty"`
	Backoff  time.Duration `yaml:"backoff,omitempty"`
}

// Settings are service-wide values shared by all hotfolders.
type Settings struct {
	DefaultErrorPath string                      `yaml:"default_error_path,omitempty"`
	DefaultLanguage  string                      `yaml:"default_language,omitempty"`
	PollInterval     time.Duration               `yaml:"poll_interval,omitempty"`
	StablePolls      int                         `yaml:"stable_polls,omitempty"`
	SidecarWait      time.Duration               `yaml:"sidecar_wait,omitempty"`
	QueueSize        int                         `yaml:"queue_size,omitempty"`
	Retry            RetrySettings               `yaml:"retry,omitempty"`
	SMTP             SMTPSettings                `yaml:"smtp,omitempty"`
	Databases        map[string]DatabaseSettings `yaml:"databases,omitempty"`
}

// Snapshot is an immutable view of the whole configuration. Workers read it
// once per document; a reload replaces the pointer, never the contents.
type Snapshot struct {
	Settings   Settings                 `yaml:"settings"`
	Hotfolders []models.HotfolderConfig `yaml:"hotfolders"`
	Stamps     []models.StampSpec       `yaml:"stamps,omitempty"`
	LoadedAt   time.Time                `yaml:"-"`
	Source     string                   `yaml:"-"`
}

// Hotfolder returns the folder with the given id.
func (s *Snapshot) Hotfolder(id string) (*models.HotfolderConfig, bool) {
	for i := range s.Hotfolders {
		if s.Hotfolders[i].ID == id {
			return &s.Hotfolders[i], true
		}
	}
	return nil, false
}

// Stamp returns the stamp spec with the given id.
func (s *Snapshot) Stamp(id string) (*models.StampSpec, bool) {
	for i := range s.Stamps {
		if s.Stamps[i].ID == id {
			return &s.Stamps[i], true
		}
	}
	return nil, false
}

// ErrorPathFor is the folder's error path, else the service default, else
// an _error folder below the folder's output path.
func (s *Snapshot) ErrorPathFor(h *models.HotfolderConfig) string {
	if h.ErrorPath != "" {
		return h.ErrorPath
	}
	if s.Settings.DefaultErrorPath != "" {
		return s.Settings.DefaultErrorPath
	}
	return filepath.Join(h.OutputPath, "_error")
}
