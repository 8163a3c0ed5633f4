package export

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/jlaffaye/ftp"
)

// ftpConn is the subset of *ftp.ServerConn used for uploads.
type ftpConn interface {
	Login(user, password string) error
	MakeDir(path string) error
	FileSize(path string) (int64, error)
	Stor(path string, r io.Reader) error
	Quit() error
}

// FTPTransport uploads to the server named in the export params: host,
// port (21), user, password and timeout (30s). The export path is the
// remote directory, created when missing.
type FTPTransport struct {
	dial func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error)
}

func NewFTPTransport() *FTPTransport {
	return &FTPTransport{dial: func(ctx context.Context, addr string, timeout time.Duration) (ftpConn, error) {
		return ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(timeout))
	}}
}

func (t *FTPTransport) Method() models.ExportMethod { return models.MethodFTP }

func (t *FTPTransport) Deliver(ctx context.Context, d *Delivery) (string, error) {
	p := d.Config.Params
	host := p.Get("host", "")
	if host == "" {
		return "", permanent{fmt.Errorf("ftp export has no host")}
	}
	port, err := strconv.Atoi(p.Get("port", "21"))
	if err != nil {
		return "", permanent{fmt.Errorf("invalid ftp port: %w", err)}
	}
	timeout, err := time.ParseDuration(p.Get("timeout", "30s"))
	if err != nil {
		return "", permanent{fmt.Errorf("invalid ftp timeout: %w", err)}
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := t.dial(ctx, addr, timeout)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Quit()
	if err := conn.Login(p.Get("user", "anonymous"), p.Get("password", "anonymous")); err != nil {
		return "", fmt.Errorf("login %s: %w", addr, err)
	}

	dir := path.Clean("/" + strings.ReplaceAll(d.Dir, "\\", "/"))
	for _, sub := range remoteDirs(dir) {
		// MakeDir fails for existing directories; the upload reports real problems.
		_ = conn.MakeDir(sub)
	}

	target := ""
	for n := 0; n < maxNumbered; n++ {
		candidate := path.Join(dir, numbered(d.Name, n))
		if _, err := conn.FileSize(candidate); err != nil {
			target = candidate
			break
		}
	}
	if target == "" {
		return "", permanent{fmt.Errorf("no free name for %s in %s", d.Name, dir)}
	}

	f, err := os.Open(d.Source)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", d.Source, err)
	}
	defer f.Close()
	if err := conn.Stor(target, f); err != nil {
		return "", fmt.Errorf("upload %s: %w", target, err)
	}
	return fmt.Sprintf("ftp://%s%s", addr, target), nil
}

// remoteDirs lists every ancestor of dir, outermost first, excluding "/".
func remoteDirs(dir string) []string {
	var out []string
	cur := ""
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		out = append(out, cur)
	}
	return out
}
