package export

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/wneessen/go-mail"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultSMTPTimeout = 30 * time.Second

// EmailTransport sends the rendered document as an attachment through the
// SMTP server in the service settings.
type EmailTransport struct {
	// send is replaced in tests.
	send func(ctx context.Context, smtp config.SMTPSettings, msg *mail.Msg) error
}

func NewEmailTransport() *EmailTransport {
	return &EmailTransport{send: dialAndSend}
}

func (t *EmailTransport) Method() models.ExportMethod { return models.MethodEmail }

func (t *EmailTransport) Deliver(ctx context.Context, d *Delivery) (string, error) {
	if d.Settings == nil || d.Settings.SMTP.Host == "" {
		return "", permanent{fmt.Errorf("smtp is not configured")}
	}
	msg, err := buildMessage(d)
	if err != nil {
		return "", permanent{err}
	}
	if err := t.send(ctx, d.Settings.SMTP, msg); err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	return "mailto:" + d.Mail.To[0], nil
}

func buildMessage(d *Delivery) (*mail.Msg, error) {
	if d.Mail == nil || len(d.Mail.To) == 0 {
		return nil, fmt.Errorf("email export has no recipient")
	}
	msg := mail.NewMsg()
	if err := msg.From(d.Settings.SMTP.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(d.Mail.To...); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	if len(d.Mail.CC) > 0 {
		if err := msg.Cc(d.Mail.CC...); err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}
	if len(d.Mail.BCC) > 0 {
		if err := msg.Bcc(d.Mail.BCC...); err != nil {
			return nil, fmt.Errorf("invalid bcc: %w", err)
		}
	}
	msg.Subject(d.Mail.Subject)
	msg.SetBodyString(mail.TypeTextPlain, d.Mail.Body)
	msg.AttachFile(d.Source, mail.WithFileName(d.Name), mail.WithFileContentType(mail.ContentType(d.ContentType)))
	if d.Mail.AttachSidecar && d.Sidecar != "" {
		msg.AttachFile(d.Sidecar, mail.WithFileName(filepath.Base(d.Sidecar)))
	}
	return msg, nil
}

func dialAndSend(ctx context.Context, smtp config.SMTPSettings, msg *mail.Msg) error {
	opts, err := clientOptions(ctx, smtp)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(smtp.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func clientOptions(ctx context.Context, smtp config.SMTPSettings) ([]mail.Option, error) {
	timeout := smtp.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	opts := []mail.Option{mail.WithTimeout(timeout)}

	switch smtp.TLS {
	case config.TLSImplicit:
		opts = append(opts, mail.WithSSLPort(false))
	case config.TLSNone:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}
	if smtp.Port > 0 {
		opts = append(opts, mail.WithPort(smtp.Port))
	}

	switch smtp.Auth {
	case config.AuthNone:
	case config.AuthLogin:
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(smtp.Username), mail.WithPassword(smtp.Password))
	case config.AuthXOAUTH2:
		token, err := accessToken(ctx, smtp.OAuth2)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthXOAUTH2),
			mail.WithUsername(smtp.Username), mail.WithPassword(token))
	default:
		if smtp.Username != "" {
			opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain),
				mail.WithUsername(smtp.Username), mail.WithPassword(smtp.Password))
		}
	}
	return opts, nil
}

// accessToken fetches an OAuth2 access token, from the refresh token when
// one is configured and with the client credentials grant otherwise.
func accessToken(ctx context.Context, o *config.OAuth2Settings) (string, error) {
	if o == nil || o.TokenURL == "" {
		return "", permanent{fmt.Errorf("xoauth2 needs settings.smtp.oauth2 with a token_url")}
	}
	var src oauth2.TokenSource
	if o.RefreshToken != "" {
		cfg := &oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: o.TokenURL},
			Scopes:       o.Scopes,
		}
		src = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: o.RefreshToken})
	} else {
		cfg := &clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     o.TokenURL,
			Scopes:       o.Scopes,
		}
		src = cfg.TokenSource(ctx)
	}
	tok, err := src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch oauth2 token: %w", err)
	}
	return tok.AccessToken, nil
}
